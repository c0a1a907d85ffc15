// Package ratelimit classifies upstream failures into cooldown windows and
// keeps a bounded event log for the admin surface.
package ratelimit

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reason is why an account was put into cooldown.
type Reason string

const (
	ReasonAccountForbidden Reason = "account_forbidden"
	ReasonQuotaExhausted   Reason = "quota_exhausted"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonServerError      Reason = "server_error"
)

var (
	quotaResetDelayRe = regexp.MustCompile(`(?i)quotaResetDelay["\s:]+(\d+)([hms])(\d+)?([ms])?(\d+)?([s])?`)
	durationRe        = regexp.MustCompile(`(\d+)h(\d+)m(\d+)s|(\d+)m(\d+)s|(\d+)s`)
	retryAfterSecRe   = regexp.MustCompile(`^\d+$`)
)

// Cooldown describes how long and why an account should be skipped.
type Cooldown struct {
	Reason   Reason
	Until    time.Time
	Detail   string
}

// Classify maps an upstream HTTP failure to a cooldown window, per the
// fixed reason table: 403 is a 1h ban, 429 with a quota-exhausted body
// parses its own reset delay (defaulting to 1h), any other 429 honors
// Retry-After (defaulting to 60s), and 503/529/5xx get a 30s cooldown.
func Classify(status int, headers http.Header, body string) Cooldown {
	now := time.Now()
	switch {
	case status == http.StatusForbidden:
		return Cooldown{Reason: ReasonAccountForbidden, Until: now.Add(1 * time.Hour), Detail: "403 forbidden"}

	case status == http.StatusTooManyRequests:
		if strings.Contains(body, "QUOTA_EXHAUSTED") {
			d := parseQuotaResetDelay(body)
			if d <= 0 {
				d = time.Hour
			}
			return Cooldown{Reason: ReasonQuotaExhausted, Until: now.Add(d), Detail: "quota exhausted"}
		}
		d := parseRetryAfter(headers)
		if d <= 0 {
			d = 60 * time.Second
		}
		return Cooldown{Reason: ReasonRateLimited, Until: now.Add(d), Detail: "rate limited"}

	case status == 503 || status == 529 || status >= 500:
		return Cooldown{Reason: ReasonServerError, Until: now.Add(30 * time.Second), Detail: "server error"}

	default:
		return Cooldown{Reason: ReasonServerError, Until: now.Add(30 * time.Second), Detail: "unclassified"}
	}
}

// parseRetryAfter reads the Retry-After header, either as a number of
// seconds or an HTTP-date.
func parseRetryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	if retryAfterSecRe.MatchString(v) {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// parseQuotaResetDelay extracts a "NhNmNs"-style delay from the error body.
func parseQuotaResetDelay(body string) time.Duration {
	m := durationRe.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	switch {
	case m[1] != "":
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(s)*time.Second
	case m[4] != "":
		mi, _ := strconv.Atoi(m[4])
		s, _ := strconv.Atoi(m[5])
		return time.Duration(mi)*time.Minute + time.Duration(s)*time.Second
	case m[6] != "":
		s, _ := strconv.Atoi(m[6])
		return time.Duration(s) * time.Second
	}
	return 0
}

// Event is a single ring-buffer entry in the cooldown log.
type Event struct {
	Time    time.Time
	Account string
	Reason  Reason
	Status  int
	Body    string // truncated to maxBodyChars
	Until   time.Time
}

const maxBodyChars = 500

// Registry tracks per-account cooldowns and a bounded event log.
type Registry struct {
	mu         sync.RWMutex
	cooldowns  map[string]Cooldown
	events     []Event
	eventCap   int
}

func NewRegistry(eventCap int) *Registry {
	if eventCap <= 0 {
		eventCap = 1000
	}
	return &Registry{
		cooldowns: make(map[string]Cooldown),
		eventCap:  eventCap,
	}
}

// Mark records a cooldown for account and appends an event, truncating the
// body to maxBodyChars and evicting the oldest event once the log is full.
func (r *Registry) Mark(account string, status int, headers http.Header, body string) Cooldown {
	cd := Classify(status, headers, body)

	truncated := body
	if len(truncated) > maxBodyChars {
		truncated = truncated[:maxBodyChars]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[account] = cd
	r.events = append(r.events, Event{
		Time:    time.Now(),
		Account: account,
		Reason:  cd.Reason,
		Status:  status,
		Body:    truncated,
		Until:   cd.Until,
	})
	if len(r.events) > r.eventCap {
		r.events = r.events[len(r.events)-r.eventCap:]
	}
	return cd
}

// IsOnCooldown reports whether account is currently in cooldown, and until
// when.
func (r *Registry) IsOnCooldown(account string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cd, ok := r.cooldowns[account]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(cd.Until) {
		return time.Time{}, false
	}
	return cd.Until, true
}

// Clear removes an account's cooldown, e.g. after a successful request.
func (r *Registry) Clear(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldowns, account)
}

// MinWait returns the shortest remaining cooldown across all given
// accounts, or 0 if none are on cooldown.
func (r *Registry) MinWait(accounts []string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var min time.Duration = -1
	now := time.Now()
	for _, acc := range accounts {
		cd, ok := r.cooldowns[acc]
		if !ok {
			continue
		}
		remaining := cd.Until.Sub(now)
		if remaining <= 0 {
			continue
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// Events returns a copy of the event log, most recent last.
func (r *Registry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
