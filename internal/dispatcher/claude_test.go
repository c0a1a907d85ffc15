package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/session"
	"github.com/relaymux/llm-gateway/internal/tokenpool"
)

func newTestDispatcher() *Dispatcher {
	cfg := &config.Config{SchedulingMode: config.SchedulingBalanced, StickyWindowSeconds: 300}
	pool := tokenpool.NewPool(cfg, ratelimit.NewRegistry(0), session.NewRegistry(0), nil)
	return &Dispatcher{Pool: pool, Cfg: cfg}
}

func TestHandleClaudeUnaryRejectsEmptyMessages(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.HandleClaudeUnary(context.Background(), &protocol.ClaudeRequest{Model: "claude-3-5-sonnet"})
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInvalidRequest, gwErr.Kind)
}

func TestHandleClaudeStreamRejectsEmptyMessages(t *testing.T) {
	d := newTestDispatcher()
	err := d.HandleClaudeStream(context.Background(), &protocol.ClaudeRequest{Model: "claude-3-5-sonnet"},
		func(protocol.ClaudeSSEEvent) error { return nil },
		func(string) error { return nil },
	)
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInvalidRequest, gwErr.Kind)
}

func TestClaudeSessionIDPrefersMetadataUserID(t *testing.T) {
	req := &protocol.ClaudeRequest{
		Metadata: &protocol.ClaudeMetadata{UserID: "user-42"},
		Messages: []protocol.ClaudeMessage{
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	assert.Equal(t, "claude:user-42", claudeSessionID(req))
}

func TestFirstMessageTextsCapsAtThreeMessages(t *testing.T) {
	req := &protocol.ClaudeRequest{
		Messages: []protocol.ClaudeMessage{
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "one"}}},
			{Role: "assistant", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "two"}}},
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "three"}}},
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "four"}}},
		},
	}
	texts := firstMessageTexts(req)
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestHasVisionBlocksDetectsImageContent(t *testing.T) {
	withImage := &protocol.ClaudeRequest{
		Messages: []protocol.ClaudeMessage{
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "image"}}},
		},
	}
	assert.True(t, hasVisionBlocks(withImage))

	withoutImage := &protocol.ClaudeRequest{
		Messages: []protocol.ClaudeMessage{
			{Role: "user", Content: []protocol.ClaudeContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	assert.False(t, hasVisionBlocks(withoutImage))
}

func TestStreamedBytesAlready(t *testing.T) {
	streamErr := gwerrors.StreamError("mid-stream failure")
	assert.True(t, streamedBytesAlready(streamErr))

	plainErr := gwerrors.InvalidRequest("bad request")
	assert.False(t, streamedBytesAlready(plainErr))
}

func TestCandidateFinishReasonPrefersWrappedResponse(t *testing.T) {
	wrapped := &protocol.GoogleResponse{
		Response: &protocol.GoogleResponseInner{
			Candidates: []protocol.Candidate{{FinishReason: "STOP"}},
		},
	}
	assert.Equal(t, "STOP", candidateFinishReason(wrapped))

	flat := &protocol.GoogleResponse{Candidates: []protocol.Candidate{{FinishReason: "MAX_TOKENS"}}}
	assert.Equal(t, "MAX_TOKENS", candidateFinishReason(flat))

	empty := &protocol.GoogleResponse{}
	assert.Equal(t, "", candidateFinishReason(empty))
}
