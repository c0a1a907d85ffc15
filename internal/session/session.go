// Package session derives a stable session id from an inbound request and
// tracks which upstream account that session last used, so follow-up turns
// in the same conversation can stick to the same account for cache hits.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeriveID implements the gateway's 3-tier session-id scheme:
//  1. an OpenAI "user" field, namespaced "openai:"+user
//  2. a Claude metadata.user_id field, namespaced "claude:"+user_id
//  3. otherwise a rolling hash over the first 3 message texts
func DeriveID(openAIUser, claudeMetadataUserID string, firstMessageTexts []string) string {
	if openAIUser != "" {
		return "openai:" + openAIUser
	}
	if claudeMetadataUserID != "" {
		return "claude:" + claudeMetadataUserID
	}
	return hashMessages(firstMessageTexts)
}

// hashMessages DJB2-hashes the concatenation of up to the first 3 message
// texts and renders the result base36, falling back to a random id when
// there is nothing to hash.
func hashMessages(texts []string) string {
	n := len(texts)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return uuid.New().String()
	}

	joined := strings.Join(texts[:n], "\x00")
	var hash uint64 = 5381
	for _, b := range []byte(joined) {
		hash = ((hash << 5) + hash) + uint64(b) // hash*33 + b
	}
	if hash == 0 {
		return uuid.New().String()
	}
	return fmt.Sprintf("msg:%s", toBase36(hash))
}

func toBase36(n uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	var buf [13]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%36]
		n /= 36
	}
	return string(buf[i:])
}

// sha256Hex16 is used where a fixed-length opaque derivative of a text
// block is wanted (e.g. for cache keys), kept separate from DeriveID's
// rolling hash which favors speed over collision resistance.
func sha256Hex16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// Binding remembers which account a session last used.
type Binding struct {
	Account  string
	LastUsed time.Time
}

// Registry is a TTL-evicting sessionId -> Binding map. Reads implicitly
// evict expired entries so the map never needs a separate sweep to stay
// correct, though Sweep exists for the maintenance cron to bound its size.
type Registry struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]Binding
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{ttl: ttl, m: make(map[string]Binding)}
}

// Bind records that sessionID is now associated with account.
func (r *Registry) Bind(sessionID, account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[sessionID] = Binding{Account: account, LastUsed: time.Now()}
}

// Lookup returns the account bound to sessionID, evicting it first if it
// has outlived the TTL.
func (r *Registry) Lookup(sessionID string) (string, bool) {
	r.mu.RLock()
	b, ok := r.m[sessionID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Since(b.LastUsed) > r.ttl {
		r.mu.Lock()
		delete(r.m, sessionID)
		r.mu.Unlock()
		return "", false
	}
	return b.Account, true
}

// WithinStickyWindow reports whether sessionID was bound within window,
// used by CacheFirst/Balanced scheduling to decide whether affinity still
// applies (distinct from the longer TTL eviction window).
func (r *Registry) WithinStickyWindow(sessionID string, window time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.m[sessionID]
	if !ok {
		return false
	}
	return time.Since(b.LastUsed) <= window
}

// Sweep evicts all bindings older than the TTL. Called periodically by the
// maintenance cron rather than on every read, to bound lock contention.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	evicted := 0
	for id, b := range r.m {
		if now.Sub(b.LastUsed) > r.ttl {
			delete(r.m, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the current number of tracked bindings (for admin/status).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
