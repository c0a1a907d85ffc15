// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/cache"
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/store"
	"github.com/relaymux/llm-gateway/internal/tokenpool"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// AdminHandler implements SPEC_FULL.md §13's thin management surface:
// account CRUD, proxy config read/update, log tail, and a health snapshot.
// SQLite (Store) is the system of record; every mutation also pushes the
// change into the live in-process Pool and, when Cache is non-nil, into
// its Redis mirror so a restarted sibling process picks it up cold.
type AdminHandler struct {
	Store     *store.Store
	Pool      *tokenpool.Pool
	Cooldowns *ratelimit.Registry
	Cache     *cache.Client
	Hot       *cache.Hot
	Cfg       *config.Config
}

func NewAdminHandler(s *store.Store, pool *tokenpool.Pool, cooldowns *ratelimit.Registry, c *cache.Client, hot *cache.Hot, cfg *config.Config) *AdminHandler {
	return &AdminHandler{Store: s, Pool: pool, Cooldowns: cooldowns, Cache: c, Hot: hot, Cfg: cfg}
}

// ListAccounts handles GET /admin/accounts.
func (h *AdminHandler) ListAccounts(c *gin.Context) {
	rows, err := h.Store.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": rows})
}

type addAccountRequest struct {
	Email            string `json:"email" binding:"required"`
	DisplayName      string `json:"displayName"`
	RefreshToken     string `json:"refreshToken" binding:"required"`
	ProjectID        string `json:"projectId"`
	ManagedProjectID string `json:"managedProjectId"`
	Tier             string `json:"tier"`
	SortOrder        int    `json:"sortOrder"`
}

// AddAccount handles POST /admin/accounts: persists to SQLite, then
// upserts into the live pool so it's immediately selectable.
func (h *AdminHandler) AddAccount(c *gin.Context) {
	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := req.Tier
	if tier == "" {
		tier = string(tokenpool.TierUnknown)
	}

	row := store.AccountRow{
		Email: req.Email, DisplayName: req.DisplayName, RefreshToken: req.RefreshToken,
		ProjectID: req.ProjectID, ManagedProjectID: req.ManagedProjectID, Tier: tier,
		IsActive: true, SortOrder: req.SortOrder,
	}
	if _, err := h.Store.UpsertAccount(c.Request.Context(), row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.Pool.Upsert(&tokenpool.Account{
		Email: req.Email, CompositeRefresh: req.RefreshToken, ProjectID: req.ProjectID,
		ManagedProjectID: req.ManagedProjectID, Tier: tokenpool.Tier(tier), Enabled: true,
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok", "email": req.Email})
}

// DeleteAccount handles DELETE /admin/accounts/:email.
func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	email := c.Param("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	if err := h.Store.DeleteAccount(c.Request.Context(), email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.Pool.Remove(email)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetConfig handles GET /admin/config.
func (h *AdminHandler) GetConfig(c *gin.Context) {
	cfg, err := h.Store.GetConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"proxyConfig":       cfg,
		"processConfig":     h.Cfg.GetPublic(),
		"anthropicDispatch": h.Cfg.AnthropicPassthroughMode,
	})
}

// UpdateConfig handles PUT /admin/config: persists the editable subset of
// ProxyConfig to SQLite and invalidates the ristretto hot-cache entry so
// the next lookup re-reads SQLite rather than serving a stale value.
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var req store.ProxyConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.SetConfig(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.Hot != nil {
		h.Hot.InvalidateConfig()
	}
	utils.Info("[admin] proxy config updated: scheduling=%s stickiness=%v", req.SchedulingMode, req.SessionStickiness)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "config": req})
}

// GetLogs handles GET /admin/logs: the durable request log plus the
// in-memory rate-limit event ring buffer.
func (h *AdminHandler) GetLogs(c *gin.Context) {
	limit := 200
	rows, err := h.Store.TailMonitorLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": rows,
		"events":   h.Cooldowns.Events(),
	})
}

// GetHealth handles GET /admin/health: process + pool + datastore
// reachability snapshot.
func (h *AdminHandler) GetHealth(c *gin.Context) {
	accounts := h.Pool.All()
	available, rateLimited := 0, 0
	for _, acc := range accounts {
		if !acc.Enabled {
			continue
		}
		if _, onCooldown := h.Cooldowns.IsOnCooldown(acc.Email); onCooldown {
			rateLimited++
		} else {
			available++
		}
	}

	redisOK := true
	if h.Cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		redisOK = h.Cache.Ping(ctx) == nil
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"pool": gin.H{
			"total":       len(accounts),
			"available":   available,
			"rateLimited": rateLimited,
		},
		"sqlite": true,
		"redis":  redisOK,
	})
}
