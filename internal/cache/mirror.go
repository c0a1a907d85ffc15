package cache

import (
	"context"
	"time"
)

// CooldownRecord mirrors ratelimit.Cooldown for cross-restart persistence;
// it's a plain copy rather than a shared type so internal/ratelimit never
// needs to import internal/cache.
type CooldownRecord struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
	Detail string    `json:"detail"`
}

// SetCooldown mirrors an account's cooldown with a TTL matching its
// remaining duration, so a restarted process doesn't immediately retry an
// account still serving a 429/403 from before the restart.
func (c *Client) SetCooldown(ctx context.Context, account string, rec CooldownRecord) error {
	ttl := time.Until(rec.Until)
	if ttl <= 0 {
		return nil
	}
	return c.setJSON(ctx, prefixCooldown+account, rec, ttl)
}

// GetCooldown returns the mirrored cooldown for account, if any.
func (c *Client) GetCooldown(ctx context.Context, account string) (CooldownRecord, bool, error) {
	var rec CooldownRecord
	ok, err := c.getJSON(ctx, prefixCooldown+account, &rec)
	return rec, ok, err
}

// ClearCooldown removes account's mirrored cooldown, e.g. after a
// successful request clears it in the in-process registry too.
func (c *Client) ClearCooldown(ctx context.Context, account string) error {
	return c.rdb.Del(ctx, prefixCooldown+account).Err()
}

// LoadAllCooldowns scans every mirrored cooldown, used to repopulate
// ratelimit.Registry on startup.
func (c *Client) LoadAllCooldowns(ctx context.Context) (map[string]CooldownRecord, error) {
	keys, err := c.scanAll(ctx, prefixCooldown+"*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]CooldownRecord, len(keys))
	for _, key := range keys {
		var rec CooldownRecord
		ok, err := c.getJSON(ctx, key, &rec)
		if err != nil || !ok {
			continue
		}
		out[key[len(prefixCooldown):]] = rec
	}
	return out, nil
}

// SessionBinding mirrors session.Binding for cross-restart persistence.
type SessionBinding struct {
	Account  string    `json:"account"`
	LastUsed time.Time `json:"last_used"`
}

// SetSessionBinding mirrors a session->account binding with the registry's
// TTL, so sticky sessions survive a process restart.
func (c *Client) SetSessionBinding(ctx context.Context, sessionID string, b SessionBinding, ttl time.Duration) error {
	return c.setJSON(ctx, prefixSession+sessionID, b, ttl)
}

// GetSessionBinding returns the mirrored binding for sessionID, if any.
func (c *Client) GetSessionBinding(ctx context.Context, sessionID string) (SessionBinding, bool, error) {
	var b SessionBinding
	ok, err := c.getJSON(ctx, prefixSession+sessionID, &b)
	return b, ok, err
}

// CachedToken mirrors a refreshed access token so a restarted process can
// skip a redundant refresh call for an account whose token is still valid.
type CachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SetCachedToken stores account's refreshed access token, expiring it at
// ExpiresAt (the cache entry, not just the token, since a stale cached
// token is worse than no cache entry).
func (c *Client) SetCachedToken(ctx context.Context, account string, tok CachedToken) error {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.setJSON(ctx, prefixTokenCache+account, tok, ttl)
}

// GetCachedToken returns account's mirrored access token, if still cached.
func (c *Client) GetCachedToken(ctx context.Context, account string) (CachedToken, bool, error) {
	var tok CachedToken
	ok, err := c.getJSON(ctx, prefixTokenCache+account, &tok)
	return tok, ok, err
}

// NextCursor atomically advances and returns the cross-restart round-robin
// cursor used by the pool's scan-from-last-position step, so a restart
// doesn't reset every account back to the front of the rotation.
func (c *Client) NextCursor(ctx context.Context) (int64, error) {
	return c.rdb.Incr(ctx, keyRoundRobinCursor).Result()
}

func (c *Client) scanAll(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
