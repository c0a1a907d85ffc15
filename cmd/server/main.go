// Package main provides the gateway's HTTP server entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymux/llm-gateway/internal/auth"
	"github.com/relaymux/llm-gateway/internal/cache"
	"github.com/relaymux/llm-gateway/internal/config"
	"github.com/relaymux/llm-gateway/internal/server"
	"github.com/relaymux/llm-gateway/internal/store"
	"github.com/relaymux/llm-gateway/internal/utils"
)

const version = "1.0.0"

func main() {
	var (
		debugMode bool
		port      int
		host      string
		cfgPath   string
	)

	flag.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flag.IntVar(&port, "port", 0, "server port (default: from config)")
	flag.StringVar(&host, "host", "", "bind address (default: from config)")
	flag.StringVar(&cfgPath, "config", "", "path to config file (default: ~/.config/llm-gateway/config.yaml)")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" {
		debugMode = true
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Startup] failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debugMode {
		cfg.Debug = true
		utils.SetDebug(true)
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		utils.Error("[Startup] failed to open store at %s: %v", cfg.SQLitePath, err)
		os.Exit(1)
	}
	defer st.Close()

	var redisClient *cache.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			utils.Warn("[Startup] Redis unavailable (%v), running pool-only without a cross-restart mirror", err)
			redisClient = nil
		}
	}

	srv := server.New(cfg, st, redisClient, server.Options{Debug: debugMode})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Initialize(ctx); err != nil {
		utils.Error("[Startup] failed to initialize server: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	srv.SetupRoutes()

	maintenanceCron := srv.StartMaintenance(auth.NewCredentials())
	defer maintenanceCron.Stop()

	printBanner(cfg, version, len(srv.Pool.All()))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[Server] Starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] failed to start: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("Shutting down server...")
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
		os.Exit(1)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	utils.Success("Server stopped")
}

func printBanner(cfg *config.Config, version string, accountCount int) {
	displayHost := cfg.Host
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	fmt.Println()
	fmt.Printf("  llm-gateway v%s\n", version)
	fmt.Printf("  listening:   http://%s:%d\n", displayHost, cfg.Port)
	fmt.Printf("  accounts:    %d\n", accountCount)
	fmt.Printf("  scheduling:  %s\n", cfg.SchedulingMode)
	fmt.Printf("  passthrough: %s\n", cfg.AnthropicPassthroughMode)
	if cfg.Debug {
		fmt.Println("  debug:       enabled")
	}
	fmt.Println()
	fmt.Println("  endpoints:")
	fmt.Println("    POST /v1/chat/completions       OpenAI")
	fmt.Println("    POST /v1/messages                Anthropic")
	fmt.Println("    POST /v1beta/models/:m:method    Gemini native")
	fmt.Println("    POST /mcp/messages                tool-call bridge")
	fmt.Println("    GET  /health, /admin/health       status")
	fmt.Println()
}
