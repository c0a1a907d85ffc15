package dispatcher

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBuckets(t *testing.T) {
	cases := []struct {
		status int
		want   outcome
	}{
		{200, outcomeSuccess},
		{204, outcomeSuccess},
		{429, outcomeRetryableRateLimit},
		{503, outcomeRetryableRateLimit},
		{529, outcomeRetryableRateLimit},
		{400, outcomeFatal},
		{404, outcomeFatal},
		{500, outcomeRetryableServer},
		{502, outcomeRetryableServer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.status), "status %d", tc.status)
	}
}

func TestClassifyFatalKind(t *testing.T) {
	assert.Equal(t, "unauthorized", string(classifyFatalKind(http.StatusUnauthorized)))
	assert.Equal(t, "forbidden", string(classifyFatalKind(http.StatusForbidden)))
	assert.Equal(t, "not_found", string(classifyFatalKind(http.StatusNotFound)))
	assert.Equal(t, "invalid_request", string(classifyFatalKind(http.StatusTeapot)))
}

func TestIsStreamPath(t *testing.T) {
	assert.True(t, isStreamPath("/v1internal:streamGenerateContent?alt=sse"))
	assert.False(t, isStreamPath("/v1internal:generateContent"))
	assert.False(t, isStreamPath("sse"))
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		d := backoff(attempt, 100, 2000)
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(0))
		assert.LessOrEqual(t, d.Milliseconds(), int64(2000))
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	// With jitter removed at the edges, attempt 3 should clamp to maxMs
	// well before attempt 0 does for a small base.
	d0 := backoff(0, 100, 100000)
	d3 := backoff(3, 100, 100000)
	assert.Less(t, d0.Milliseconds(), d3.Milliseconds())
}
