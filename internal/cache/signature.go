package cache

import (
	"context"
	"time"
)

// SignatureStore adapts Client to protocol.SignatureStore, so
// internal/protocol's signature cache can persist across restarts without
// that package importing this one.
type SignatureStore struct {
	c   *Client
	ctx context.Context
}

// NewSignatureStore builds a protocol.SignatureStore backed by Redis, using
// ctx for every call (the gateway passes context.Background(); signature
// lookups aren't part of any single request's cancellation tree).
func NewSignatureStore(c *Client) *SignatureStore {
	return &SignatureStore{c: c, ctx: context.Background()}
}

func (s *SignatureStore) SetSignature(toolUseID, signature string, ttl time.Duration) error {
	return s.c.rdb.Set(s.ctx, prefixSignatureTool+toolUseID, signature, ttl).Err()
}

func (s *SignatureStore) GetSignature(toolUseID string) (string, error) {
	v, err := s.c.rdb.Get(s.ctx, prefixSignatureTool+toolUseID).Result()
	if IsNil(err) {
		return "", nil
	}
	return v, err
}

func (s *SignatureStore) SetThinkingSignature(signature, modelFamily string, ttl time.Duration) error {
	return s.c.rdb.Set(s.ctx, prefixSignatureThinking+signature, modelFamily, ttl).Err()
}

func (s *SignatureStore) GetThinkingSignature(signature string) (string, error) {
	v, err := s.c.rdb.Get(s.ctx, prefixSignatureThinking+signature).Result()
	if IsNil(err) {
		return "", nil
	}
	return v, err
}
