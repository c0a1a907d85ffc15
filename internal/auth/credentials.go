package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relaymux/llm-gateway/internal/utils"
)

// CachedToken is an access token plus its expiry.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the token should be treated as unusable, counting
// a window before the real expiry so callers never hand out a token that
// dies mid-request.
func (t *CachedToken) Expired(skew time.Duration) bool {
	if t == nil {
		return true
	}
	return time.Now().Add(skew).After(t.ExpiresAt)
}

// Credentials caches access tokens per account and de-duplicates concurrent
// refreshes for the same account via singleflight, so a burst of requests
// racing to use a cold account triggers exactly one refresh call.
type Credentials struct {
	mu    sync.RWMutex
	cache map[string]*CachedToken
	group singleflight.Group
}

func NewCredentials() *Credentials {
	return &Credentials{cache: make(map[string]*CachedToken)}
}

// GetAccessToken returns a live access token for the given account email and
// composite refresh token, refreshing it if the cached copy is missing or
// within skew of expiry.
func (c *Credentials) GetAccessToken(ctx context.Context, email, compositeRefresh string, skew time.Duration) (string, error) {
	c.mu.RLock()
	cached := c.cache[email]
	c.mu.RUnlock()

	if !cached.Expired(skew) {
		return cached.AccessToken, nil
	}

	v, err, _ := c.group.Do(email, func() (interface{}, error) {
		// Re-check under the singleflight key: another caller may have
		// refreshed while we waited for the group lock.
		c.mu.RLock()
		cached := c.cache[email]
		c.mu.RUnlock()
		if !cached.Expired(skew) {
			return cached.AccessToken, nil
		}

		utils.Debug("[auth] refreshing access token for %s", email)
		result, err := RefreshAccessToken(ctx, compositeRefresh)
		if err != nil {
			utils.Error("[auth] refresh failed for %s: %v", email, err)
			return "", err
		}

		expiresIn := time.Duration(result.ExpiresIn) * time.Second
		if expiresIn <= 0 {
			expiresIn = time.Hour
		}
		tok := &CachedToken{AccessToken: result.AccessToken, ExpiresAt: time.Now().Add(expiresIn)}

		c.mu.Lock()
		c.cache[email] = tok
		c.mu.Unlock()

		utils.Success("[auth] refreshed access token for %s", email)
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", fmt.Errorf("refresh token for %s: %w", email, err)
	}
	return v.(string), nil
}

// ExpiresWithin reports the cached token's remaining lifetime for the given
// account, used by the token pool's proactive-refresh check.
func (c *Credentials) ExpiresWithin(email string, window time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.cache[email]
	if !ok {
		return true
	}
	return time.Until(tok.ExpiresAt) < window
}

// Invalidate drops a cached token, forcing the next GetAccessToken call to
// refresh regardless of its recorded expiry.
func (c *Credentials) Invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, email)
}
