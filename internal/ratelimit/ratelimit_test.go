package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		headers    http.Header
		body       string
		wantReason Reason
		wantMin    time.Duration
		wantMax    time.Duration
	}{
		{
			name:       "forbidden is a one hour ban",
			status:     http.StatusForbidden,
			wantReason: ReasonAccountForbidden,
			wantMin:    59 * time.Minute,
			wantMax:    time.Hour,
		},
		{
			name:       "quota exhausted parses its own reset delay",
			status:     http.StatusTooManyRequests,
			body:       `{"error":"QUOTA_EXHAUSTED","quotaResetDelay":"2m30s"}`,
			wantReason: ReasonQuotaExhausted,
			wantMin:    2*time.Minute + 29*time.Second,
			wantMax:    2*time.Minute + 30*time.Second,
		},
		{
			name:       "quota exhausted with no parseable delay defaults to an hour",
			status:     http.StatusTooManyRequests,
			body:       "QUOTA_EXHAUSTED",
			wantReason: ReasonQuotaExhausted,
			wantMin:    59 * time.Minute,
			wantMax:    time.Hour,
		},
		{
			name:       "plain 429 honors retry-after in seconds",
			status:     http.StatusTooManyRequests,
			headers:    http.Header{"Retry-After": []string{"15"}},
			body:       "rate limited",
			wantReason: ReasonRateLimited,
			wantMin:    14 * time.Second,
			wantMax:    15 * time.Second,
		},
		{
			name:       "plain 429 with no retry-after defaults to 60s",
			status:     http.StatusTooManyRequests,
			body:       "rate limited",
			wantReason: ReasonRateLimited,
			wantMin:    59 * time.Second,
			wantMax:    60 * time.Second,
		},
		{
			name:       "503 gets a short cooldown",
			status:     503,
			wantReason: ReasonServerError,
			wantMin:    29 * time.Second,
			wantMax:    30 * time.Second,
		},
		{
			name:       "529 gets a short cooldown",
			status:     529,
			wantReason: ReasonServerError,
			wantMin:    29 * time.Second,
			wantMax:    30 * time.Second,
		},
		{
			name:       "unclassified status still gets a cooldown",
			status:     418,
			wantReason: ReasonServerError,
			wantMin:    29 * time.Second,
			wantMax:    30 * time.Second,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cd := Classify(tc.status, tc.headers, tc.body)
			assert.Equal(t, tc.wantReason, cd.Reason)
			remaining := time.Until(cd.Until)
			assert.GreaterOrEqual(t, remaining, tc.wantMin)
			assert.LessOrEqual(t, remaining, tc.wantMax)
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC()
	headers := http.Header{"Retry-After": []string{future.Format(http.TimeFormat)}}
	d := parseRetryAfter(headers)
	assert.Greater(t, d, 80*time.Second)
	assert.LessOrEqual(t, d, 90*time.Second)
}

func TestParseRetryAfterMissingOrInvalid(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(nil))
	assert.Equal(t, time.Duration(0), parseRetryAfter(http.Header{}))
	assert.Equal(t, time.Duration(0), parseRetryAfter(http.Header{"Retry-After": []string{"not-a-value"}}))
}

func TestRegistryMarkAndIsOnCooldown(t *testing.T) {
	r := NewRegistry(10)

	cd := r.Mark("acct@example.com", http.StatusForbidden, nil, "forbidden")
	assert.Equal(t, ReasonAccountForbidden, cd.Reason)

	until, onCooldown := r.IsOnCooldown("acct@example.com")
	require.True(t, onCooldown)
	assert.WithinDuration(t, cd.Until, until, time.Second)

	_, onCooldown = r.IsOnCooldown("other@example.com")
	assert.False(t, onCooldown)
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(10)
	r.Mark("acct@example.com", http.StatusForbidden, nil, "forbidden")
	r.Clear("acct@example.com")

	_, onCooldown := r.IsOnCooldown("acct@example.com")
	assert.False(t, onCooldown)
}

func TestRegistryMinWait(t *testing.T) {
	r := NewRegistry(10)
	r.Mark("fast@example.com", http.StatusTooManyRequests, http.Header{"Retry-After": []string{"5"}}, "rate limited")
	r.Mark("slow@example.com", http.StatusForbidden, nil, "forbidden")

	wait := r.MinWait([]string{"fast@example.com", "slow@example.com", "absent@example.com"})
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 5*time.Second)

	assert.Equal(t, time.Duration(0), r.MinWait([]string{"absent@example.com"}))
}

func TestRegistryEventLogTruncatesBodyAndEvicts(t *testing.T) {
	r := NewRegistry(2)

	longBody := make([]byte, maxBodyChars+50)
	for i := range longBody {
		longBody[i] = 'x'
	}
	r.Mark("a@example.com", 500, nil, string(longBody))
	r.Mark("b@example.com", 500, nil, "short")
	r.Mark("c@example.com", 500, nil, "short")

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b@example.com", events[0].Account)
	assert.Equal(t, "c@example.com", events[1].Account)

	r2 := NewRegistry(10)
	r2.Mark("a@example.com", 500, nil, string(longBody))
	assert.Len(t, r2.Events()[0].Body, maxBodyChars)
}

func TestNewRegistryDefaultsEventCap(t *testing.T) {
	r := NewRegistry(0)
	assert.Equal(t, 1000, r.eventCap)
}
