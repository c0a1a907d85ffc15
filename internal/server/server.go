package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaymux/llm-gateway/internal/auth"
	"github.com/relaymux/llm-gateway/internal/cache"
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/dispatcher"
	"github.com/relaymux/llm-gateway/internal/ratelimit"
	"github.com/relaymux/llm-gateway/internal/router"
	"github.com/relaymux/llm-gateway/internal/server/handlers"
	"github.com/relaymux/llm-gateway/internal/session"
	"github.com/relaymux/llm-gateway/internal/store"
	"github.com/relaymux/llm-gateway/internal/tokenpool"
	"github.com/relaymux/llm-gateway/internal/upstream"
	"github.com/relaymux/llm-gateway/internal/utils"
)

// builtinModelDefaults maps the short aliases operators type (opus, sonnet,
// haiku, flash, pro) onto a concrete upstream model.
var builtinModelDefaults = map[string]string{
	"opus":   "claude-opus-4-6-thinking",
	"sonnet": "claude-sonnet-4-5",
	"haiku":  "claude-sonnet-4-5",
	"flash":  "gemini-3-flash",
	"pro":    "gemini-3-pro-high",
}

var protocolDefaults = map[string]string{
	"openai": "gemini-3-flash",
	"claude": "claude-sonnet-4-5",
	"gemini": "gemini-3-pro-low",
}

// Server wires the store, cache, token pool, and dispatcher into a
// gin.Engine and owns the one-time startup sequence that loads accounts
// from SQLite into the live pool.
type Server struct {
	engine *gin.Engine
	cfg    *config.Config

	Store     *store.Store
	Cache     *cache.Client
	Hot       *cache.Hot
	Cooldowns *ratelimit.Registry
	Sessions  *session.Registry
	Pool      *tokenpool.Pool
	Dispatch  *dispatcher.Dispatcher

	initOnce    sync.Once
	initError   error
	initialized bool
}

// Options holds server startup options.
type Options struct {
	Debug bool
}

// New wires (but does not yet populate) the server's dependency graph.
// store and redisClient may be nil; a nil redisClient runs pool-only,
// in-memory scheduling state with no cross-restart mirror.
func New(cfg *config.Config, st *store.Store, redisClient *cache.Client, opts Options) *Server {
	if opts.Debug || cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	hot, err := cache.NewHot()
	if err != nil {
		utils.Warn("[Server] ristretto init failed, running without hot cache: %v", err)
		hot = nil
	}

	cooldowns := ratelimit.NewRegistry(cfg.EventLogCapacity)
	sessions := session.NewRegistry(time.Duration(cfg.SessionTTLSeconds) * time.Second)
	creds := auth.NewCredentials()
	pool := tokenpool.NewPool(cfg, cooldowns, sessions, creds)

	mapping := router.ModelMapping{
		Custom:           cfg.ModelMapping,
		ProtocolDefaults: protocolDefaults,
		BuiltinDefaults:  builtinModelDefaults,
		DefaultModel:     "gemini-3-flash",
	}
	disp := dispatcher.New(pool, cfg, upstream.NewClient(), mapping)

	return &Server{
		engine:    engine,
		cfg:       cfg,
		Store:     st,
		Cache:     redisClient,
		Hot:       hot,
		Cooldowns: cooldowns,
		Sessions:  sessions,
		Pool:      pool,
		Dispatch:  disp,
	}
}

// Initialize loads the account pool from SQLite. Safe to call more than
// once; only the first call does any work.
func (s *Server) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		if s.Store == nil {
			s.initialized = true
			return
		}
		rows, err := s.Store.ListAccounts(ctx)
		if err != nil {
			s.initError = fmt.Errorf("load accounts: %w", err)
			return
		}
		for _, row := range rows {
			if !row.IsActive {
				continue
			}
			s.Pool.Upsert(&tokenpool.Account{
				Email:            row.Email,
				CompositeRefresh: row.RefreshToken,
				ProjectID:        row.ProjectID,
				ManagedProjectID: row.ManagedProjectID,
				Tier:             tokenpool.Tier(row.Tier),
				Enabled:          true,
			})
		}
		utils.Success("[Server] Loaded %d account(s) from store", len(s.Pool.All()))
		s.initialized = true
	})
	return s.initError
}

func (s *Server) ensureInitialized(c *gin.Context) bool {
	if s.initialized {
		return true
	}
	if err := s.Initialize(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type":  "error",
			"error": gin.H{"type": "api_error", "message": "server not initialized: " + err.Error()},
		})
		return false
	}
	return true
}

// SetupRoutes registers every endpoint in SPEC_FULL.md §6 and §13.
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(SilentHandlerMiddleware())
	s.engine.Use(RequestLoggingMiddleware())

	modelsHandler := handlers.NewModelsHandler()
	messagesHandler := handlers.NewMessagesHandler(s.Dispatch)
	chatHandler := handlers.NewChatHandler(s.Dispatch, func() int64 { return time.Now().Unix() })
	geminiHandler := handlers.NewGeminiHandler(s.Dispatch)
	mcpHandler := handlers.NewMCPHandler(s.Dispatch)
	healthHandler := handlers.NewHealthHandler(s.Pool, s.Cooldowns)
	adminHandler := handlers.NewAdminHandler(s.Store, s.Pool, s.Cooldowns, s.Cache, s.Hot, s.cfg)

	s.engine.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		healthHandler.Health(c)
	})

	gated := func(fn gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			fn(c)
		}
	}

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", gated(modelsHandler.ListOpenAI))
		v1.GET("/models/claude", gated(modelsHandler.ListClaude))
		v1.POST("/chat/completions", gated(chatHandler.Completions))
		v1.POST("/messages", gated(messagesHandler.Messages))
		v1.POST("/messages/count_tokens", messagesHandler.CountTokens)
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1beta.GET("/models", gated(modelsHandler.ListGemini))
		v1beta.GET("/models/:model", gated(modelsHandler.GetGemini))
		v1beta.POST("/models/:modelAndMethod", gated(geminiHandler.Dispatch))
	}

	mcp := s.engine.Group("/mcp")
	mcp.Use(APIKeyAuthMiddleware(s.cfg))
	{
		mcp.POST("/messages", gated(mcpHandler.Messages))
	}

	s.engine.POST("/admin/login", AdminLoginHandler(s.cfg))

	admin := s.engine.Group("/admin")
	admin.Use(AdminAuthMiddleware(s.cfg))
	{
		admin.GET("/accounts", adminHandler.ListAccounts)
		admin.POST("/accounts", adminHandler.AddAccount)
		admin.DELETE("/accounts/:email", adminHandler.DeleteAccount)
		admin.GET("/config", adminHandler.GetConfig)
		admin.PUT("/config", adminHandler.UpdateConfig)
		admin.GET("/logs", adminHandler.GetLogs)
		admin.GET("/health", adminHandler.GetHealth)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if utils.IsDebug() {
			utils.Debug("[API] 404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"type":  "error",
			"error": gin.H{"type": "not_found_error", "message": fmt.Sprintf("endpoint %s %s not found", c.Request.Method, c.Request.URL.Path)},
		})
	})
}

// Engine returns the underlying gin.Engine, for tests or custom wiring.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run(addr string) error {
	s.SetupRoutes()
	utils.Info("[Server] Starting on %s", addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer.ListenAndServe()
}
