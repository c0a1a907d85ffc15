package protocol

import (
	"sync"
	"time"

	"github.com/relaymux/llm-gateway/internal/config"
)

// SignatureStore is the persistence backend a SignatureCache delegates to
// when one is wired in (internal/cache.Redis implements this). Without one,
// SignatureCache falls back to its own in-process map.
type SignatureStore interface {
	SetSignature(toolUseID, signature string, ttl time.Duration) error
	GetSignature(toolUseID string) (string, error)
	SetThinkingSignature(signature, modelFamily string, ttl time.Duration) error
	GetThinkingSignature(signature string) (string, error)
}

// SignatureCache caches Gemini thoughtSignatures for tool calls and
// thinking blocks: Gemini requires thoughtSignature on tool calls, but
// Claude clients strip non-standard fields on the way back, so the gateway
// has to remember them out of band across the conversation.
type SignatureCache struct {
	mu            sync.RWMutex
	store         SignatureStore
	memoryCache   map[string]*signatureEntry
	thinkingCache map[string]*thinkingEntry
}

type signatureEntry struct {
	Signature string
	Timestamp time.Time
}

type thinkingEntry struct {
	ModelFamily string
	Timestamp   time.Time
}

func NewSignatureCache(store SignatureStore) *SignatureCache {
	return &SignatureCache{
		store:         store,
		memoryCache:   make(map[string]*signatureEntry),
		thinkingCache: make(map[string]*thinkingEntry),
	}
}

func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if c.store != nil {
		_ = c.store.SetSignature(toolUseID, signature, ttl)
		return
	}
	c.memoryCache[toolUseID] = &signatureEntry{Signature: signature, Timestamp: time.Now()}
}

func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.store != nil {
		signature, err := c.store.GetSignature(toolUseID)
		if err != nil {
			return ""
		}
		return signature
	}

	entry, ok := c.memoryCache[toolUseID]
	if !ok {
		return ""
	}
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.memoryCache, toolUseID)
		return ""
	}
	return entry.Signature
}

func (c *SignatureCache) CacheThinkingSignature(signature, modelFamily string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if c.store != nil {
		_ = c.store.SetThinkingSignature(signature, modelFamily, ttl)
		return
	}
	c.thinkingCache[signature] = &thinkingEntry{ModelFamily: modelFamily, Timestamp: time.Now()}
}

func (c *SignatureCache) GetCachedSignatureFamily(signature string) string {
	if signature == "" {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.store != nil {
		family, err := c.store.GetThinkingSignature(signature)
		if err != nil {
			return ""
		}
		return family
	}

	entry, ok := c.thinkingCache[signature]
	if !ok {
		return ""
	}
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.thinkingCache, signature)
		return ""
	}
	return entry.ModelFamily
}

func (c *SignatureCache) ClearThinkingSignatureCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinkingCache = make(map[string]*thinkingEntry)
}

var (
	globalSignatureCache *SignatureCache
	signatureCacheOnce   sync.Once
)

// InitGlobalSignatureCache wires a persistence backend into the package's
// shared cache; call once during startup before any request is served.
func InitGlobalSignatureCache(store SignatureStore) {
	signatureCacheOnce.Do(func() {
		globalSignatureCache = NewSignatureCache(store)
	})
}

func GetGlobalSignatureCache() *SignatureCache {
	if globalSignatureCache == nil {
		globalSignatureCache = NewSignatureCache(nil)
	}
	return globalSignatureCache
}

func ClearThinkingSignatureCache() {
	GetGlobalSignatureCache().ClearThinkingSignatureCache()
}
