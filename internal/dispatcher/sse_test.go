package dispatcher

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/protocol"
)

func sseBody(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestReadUpstreamSSEFeedsEachDataLineInOrder(t *testing.T) {
	body := sseBody(
		"data: {\"candidates\":[{\"finishReason\":\"\"}]}\n" +
			"\n" +
			"data: {\"candidates\":[{\"finishReason\":\"STOP\"}]}\n",
	)

	var reasons []string
	err := readUpstreamSSE(body, func(chunk *protocol.GoogleResponse) error {
		require.Len(t, chunk.Candidates, 1)
		reasons = append(reasons, chunk.Candidates[0].FinishReason)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "STOP"}, reasons)
}

func TestReadUpstreamSSESkipsDoneAndBlankLines(t *testing.T) {
	body := sseBody("data: [DONE]\n\ndata:    \n")
	calls := 0
	err := readUpstreamSSE(body, func(chunk *protocol.GoogleResponse) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestReadUpstreamSSESkipsMalformedJSONWithoutFailing(t *testing.T) {
	body := sseBody("data: not json\ndata: {\"candidates\":[{\"finishReason\":\"STOP\"}]}\n")
	calls := 0
	err := readUpstreamSSE(body, func(chunk *protocol.GoogleResponse) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReadUpstreamSSEIgnoresNonDataLines(t *testing.T) {
	body := sseBody(": keepalive\nevent: ping\ndata: {\"candidates\":[{\"finishReason\":\"STOP\"}]}\n")
	calls := 0
	err := readUpstreamSSE(body, func(chunk *protocol.GoogleResponse) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReadUpstreamSSEPropagatesFeedErrorAndStopsScanning(t *testing.T) {
	body := sseBody(
		"data: {\"candidates\":[{\"finishReason\":\"A\"}]}\n" +
			"data: {\"candidates\":[{\"finishReason\":\"B\"}]}\n",
	)
	boom := errors.New("boom")
	calls := 0
	err := readUpstreamSSE(body, func(chunk *protocol.GoogleResponse) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
