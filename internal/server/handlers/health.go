// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/tokenpool"
)

// HealthHandler reports per-account cooldown status drawn straight from
// the live pool and rate-limit registry, rather than a separate polled
// quota snapshot.
type HealthHandler struct {
	Pool      *tokenpool.Pool
	Cooldowns *ratelimit.Registry
}

func NewHealthHandler(pool *tokenpool.Pool, cooldowns *ratelimit.Registry) *HealthHandler {
	return &HealthHandler{Pool: pool, Cooldowns: cooldowns}
}

type accountDetail struct {
	Email                      string `json:"email"`
	Tier                       string `json:"tier"`
	Status                     string `json:"status"`
	LastUsed                   string `json:"lastUsed,omitempty"`
	RateLimitCooldownRemaining int64  `json:"rateLimitCooldownRemaining"`
}

// Health handles GET /health: a summary count plus per-account status.
func (h *HealthHandler) Health(c *gin.Context) {
	start := time.Now()
	accounts := h.Pool.All()
	now := time.Now()

	details := make([]accountDetail, 0, len(accounts))
	available, rateLimited, disabled := 0, 0, 0

	for _, acc := range accounts {
		d := accountDetail{Email: acc.Email, Tier: string(acc.Tier)}
		if !acc.LastUsed.IsZero() {
			d.LastUsed = acc.LastUsed.Format(time.RFC3339)
		}

		if !acc.Enabled {
			d.Status = "disabled"
			disabled++
			details = append(details, d)
			continue
		}

		if until, onCooldown := h.Cooldowns.IsOnCooldown(acc.Email); onCooldown {
			d.Status = "rate-limited"
			d.RateLimitCooldownRemaining = int64(until.Sub(now) / time.Millisecond)
			rateLimited++
		} else {
			d.Status = "ok"
			available++
		}
		details = append(details, d)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": now.Format(time.RFC3339),
		"latencyMs": time.Since(start).Milliseconds(),
		"counts": gin.H{
			"total":       len(accounts),
			"available":   available,
			"rateLimited": rateLimited,
			"disabled":    disabled,
		},
		"accounts": details,
	})
}
