package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
)

func TestHandleOpenAIUnaryRejectsEmptyMessages(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.HandleOpenAIUnary(context.Background(), &protocol.OpenAIRequest{Model: "gpt-4o"}, 0)
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInvalidRequest, gwErr.Kind)
}

func TestOpenAISessionIDPrefersUser(t *testing.T) {
	rawText, _ := json.Marshal("hello")
	req := &protocol.OpenAIRequest{
		User:     "user-7",
		Messages: []protocol.OpenAIMessage{{Role: "user", Content: rawText}},
	}
	assert.Equal(t, "openai:user-7", openAISessionID(req))
}

func TestOpenAIContentAsPlainTextHandlesStringAndParts(t *testing.T) {
	plain, _ := json.Marshal("hi there")
	assert.Equal(t, "hi there", openAIContentAsPlainText(plain))

	parts, _ := json.Marshal([]protocol.OpenAIContentPart{{Type: "text", Text: "part text"}})
	assert.Equal(t, "part text", openAIContentAsPlainText(parts))

	assert.Equal(t, "", openAIContentAsPlainText(nil))
}

func TestOpenAIHasVisionDetectsImagePart(t *testing.T) {
	parts, _ := json.Marshal([]protocol.OpenAIContentPart{
		{Type: "text", Text: "look"},
		{Type: "image_url", ImageURL: &protocol.OpenAIImageURL{URL: "data:image/png;base64,Zm9v"}},
	})
	req := &protocol.OpenAIRequest{Messages: []protocol.OpenAIMessage{{Role: "user", Content: parts}}}
	assert.True(t, openAIHasVision(req))

	textOnly, _ := json.Marshal("just text")
	req2 := &protocol.OpenAIRequest{Messages: []protocol.OpenAIMessage{{Role: "user", Content: textOnly}}}
	assert.False(t, openAIHasVision(req2))
}

func TestOpenAIFirstMessageTextsCapsAtThree(t *testing.T) {
	msg := func(s string) protocol.OpenAIMessage {
		raw, _ := json.Marshal(s)
		return protocol.OpenAIMessage{Role: "user", Content: raw}
	}
	req := &protocol.OpenAIRequest{
		Messages: []protocol.OpenAIMessage{msg("one"), msg("two"), msg("three"), msg("four")},
	}
	assert.Equal(t, []string{"one", "two", "three"}, openAIFirstMessageTexts(req))
}
