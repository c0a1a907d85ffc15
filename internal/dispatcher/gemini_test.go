package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/gwerrors"
	"github.com/relaymux/llm-gateway/internal/protocol"
)

func TestHandleGeminiUnaryRejectsEmptyContents(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.HandleGeminiUnary(context.Background(), "gemini-2.5-pro", &protocol.GoogleRequest{})
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInvalidRequest, gwErr.Kind)
}

func TestHandleGeminiStreamRejectsEmptyContents(t *testing.T) {
	d := newTestDispatcher()
	err := d.HandleGeminiStream(context.Background(), "gemini-2.5-pro", &protocol.GoogleRequest{}, func(*protocol.GoogleResponse) error { return nil })
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInvalidRequest, gwErr.Kind)
}

func TestGeminiFirstMessageTextsCapsAtThree(t *testing.T) {
	req := &protocol.GoogleRequest{
		Contents: []protocol.GoogleContent{
			{Parts: []protocol.GooglePart{{Text: "one"}}},
			{Parts: []protocol.GooglePart{{Text: "two"}}},
			{Parts: []protocol.GooglePart{{Text: "three"}}},
			{Parts: []protocol.GooglePart{{Text: "four"}}},
		},
	}
	assert.Equal(t, []string{"one", "two", "three"}, geminiFirstMessageTexts(req))
}

func TestGeminiHasVisionDetectsInlineAndFileData(t *testing.T) {
	withInline := &protocol.GoogleRequest{
		Contents: []protocol.GoogleContent{{Parts: []protocol.GooglePart{{InlineData: &protocol.InlineData{MimeType: "image/png", Data: "abc"}}}}},
	}
	assert.True(t, geminiHasVision(withInline))

	withFile := &protocol.GoogleRequest{
		Contents: []protocol.GoogleContent{{Parts: []protocol.GooglePart{{FileData: &protocol.FileData{MimeType: "image/png", FileURI: "gs://x"}}}}},
	}
	assert.True(t, geminiHasVision(withFile))

	textOnly := &protocol.GoogleRequest{
		Contents: []protocol.GoogleContent{{Parts: []protocol.GooglePart{{Text: "hi"}}}},
	}
	assert.False(t, geminiHasVision(textOnly))
}

func TestGeminiSessionIDIsDeterministicForSameContent(t *testing.T) {
	req := &protocol.GoogleRequest{Contents: []protocol.GoogleContent{{Parts: []protocol.GooglePart{{Text: "hello"}}}}}
	id1 := geminiSessionID(req)
	id2 := geminiSessionID(req)
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1)
}
