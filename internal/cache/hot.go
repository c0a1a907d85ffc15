package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Hot is the in-process cache fronting the SQLite proxy_config row and
// per-account project-id lookups, so hot-path account selection never
// blocks on SQLite under load. Redis (above) is the cross-restart mirror;
// this is the zero-latency layer in front of it.
type Hot struct {
	c *ristretto.Cache
}

const (
	configCacheKey        = "proxy_config"
	projectIDKeyPrefix    = "project_id:"
	defaultHotCacheTTL    = 5 * time.Minute
)

// NewHot builds a ristretto cache sized for a few thousand small entries
// (one config row, one project-id string per pool account).
func NewHot() (*Hot, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20, // 1MiB: all entries here are tiny strings/structs
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Hot{c: c}, nil
}

// Close releases ristretto's background goroutines.
func (h *Hot) Close() { h.c.Close() }

// CachedConfig is the subset of ProxyConfig the hot path reads on every
// request (scheduling mode, session stickiness, max-wait); the full row
// still round-trips through SQLite on admin writes.
type CachedConfig struct {
	SchedulingMode    string
	SessionStickiness bool
	MaxWaitSeconds    int
}

// SetConfig caches the current config row.
func (h *Hot) SetConfig(cfg CachedConfig) {
	h.c.SetWithTTL(configCacheKey, cfg, 1, defaultHotCacheTTL)
	h.c.Wait()
}

// GetConfig returns the cached config row, if present.
func (h *Hot) GetConfig() (CachedConfig, bool) {
	v, ok := h.c.Get(configCacheKey)
	if !ok {
		return CachedConfig{}, false
	}
	return v.(CachedConfig), true
}

// InvalidateConfig drops the cached config row, forcing the next read to
// hit SQLite; called after an admin config update.
func (h *Hot) InvalidateConfig() { h.c.Del(configCacheKey) }

// SetProjectID caches account's discovered Cloud Code project id.
func (h *Hot) SetProjectID(account, projectID string) {
	h.c.SetWithTTL(projectIDKeyPrefix+account, projectID, 1, defaultHotCacheTTL)
	h.c.Wait()
}

// GetProjectID returns account's cached project id, if present.
func (h *Hot) GetProjectID(account string) (string, bool) {
	v, ok := h.c.Get(projectIDKeyPrefix + account)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// InvalidateProjectID drops account's cached project id, e.g. after the
// account is removed from the pool.
func (h *Hot) InvalidateProjectID(account string) { h.c.Del(projectIDKeyPrefix + account) }
