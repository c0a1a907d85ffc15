// Package config provides layered runtime configuration for the gateway:
// defaults, then a config file, then environment variables, via viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/relaymux/llm-gateway/internal/utils"
)

// SchedulingMode selects how the token pool picks an account for a request.
type SchedulingMode string

// MinSignatureLength is the shortest thinking/tool-use signature the
// upstream is trusted to have issued; anything shorter is treated as
// missing rather than risk replaying a truncated signature.
const MinSignatureLength = 50

// GeminiSignatureCacheTTLMs is how long a cached tool-use/thinking
// signature remains valid before it must be treated as missing.
const GeminiSignatureCacheTTLMs = 2 * 60 * 60 * 1000

// GeminiSkipSignature is the sentinel thoughtSignature value Gemini emits
// to mean "no signature needed for this call."
const GeminiSkipSignature = "skip_thought_signature_validator"

// GeminiMaxOutputTokens caps maxOutputTokens on requests routed to a
// Gemini-family model.
const GeminiMaxOutputTokens = 16384

const (
	// SchedulingCacheFirst blocks until a cooldown ends rather than give up
	// session affinity, trading latency for cache-hit rate on the upstream.
	SchedulingCacheFirst SchedulingMode = "cache_first"
	// SchedulingBalanced prefers session affinity but never blocks.
	SchedulingBalanced SchedulingMode = "balanced"
	// SchedulingPerformanceFirst ignores affinity and round-robins
	// aggressively for lowest latency.
	SchedulingPerformanceFirst SchedulingMode = "performance_first"
)

type HealthScoreConfig struct {
	Initial          float64 `mapstructure:"initial"`
	SuccessReward    float64 `mapstructure:"success_reward"`
	RateLimitPenalty float64 `mapstructure:"rate_limit_penalty"`
	FailurePenalty   float64 `mapstructure:"failure_penalty"`
	RecoveryPerHour  float64 `mapstructure:"recovery_per_hour"`
	MinUsable        float64 `mapstructure:"min_usable"`
	MaxScore         float64 `mapstructure:"max_score"`
}

type QuotaConfig struct {
	LowThreshold      float64 `mapstructure:"low_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	StaleMs           int64   `mapstructure:"stale_ms"`
}

// Config is the gateway's full runtime configuration.
type Config struct {
	mu sync.RWMutex `mapstructure:"-"`

	APIKey        string `mapstructure:"api_key"`
	AdminPassword string `mapstructure:"admin_password"`

	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`

	MaxRetries  int   `mapstructure:"max_retries"`
	RetryBaseMs int64 `mapstructure:"retry_base_ms"`
	RetryMaxMs  int64 `mapstructure:"retry_max_ms"`

	// RequestDeadlineSeconds bounds the whole attempt loop for one request,
	// including any CacheFirst blocking wait.
	RequestDeadlineSeconds int `mapstructure:"request_deadline_seconds"`

	DefaultCooldownMs    int64 `mapstructure:"default_cooldown_ms"`
	MaxWaitBeforeErrorMs int64 `mapstructure:"max_wait_before_error_ms"`

	MaxAccounts          int     `mapstructure:"max_accounts"`
	GlobalQuotaThreshold float64 `mapstructure:"global_quota_threshold"`

	RateLimitDedupWindowMs int64 `mapstructure:"rate_limit_dedup_window_ms"`
	MaxConsecutiveFailures int   `mapstructure:"max_consecutive_failures"`
	ExtendedCooldownMs     int64 `mapstructure:"extended_cooldown_ms"`

	// SessionTTLSeconds is the session-binding eviction window (§4.3).
	SessionTTLSeconds int `mapstructure:"session_ttl_seconds"`
	// StickyWindowSeconds is the "hot account" affinity window used by
	// CacheFirst/Balanced scheduling.
	StickyWindowSeconds int `mapstructure:"sticky_window_seconds"`
	// ProactiveRefreshWindowSeconds triggers a refresh before expiry.
	ProactiveRefreshWindowSeconds int `mapstructure:"proactive_refresh_window_seconds"`

	SchedulingMode SchedulingMode `mapstructure:"scheduling_mode"`
	HealthScore    HealthScoreConfig `mapstructure:"health_score"`
	Quota          QuotaConfig       `mapstructure:"quota"`

	ModelMapping map[string]string `mapstructure:"model_mapping"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	SQLitePath string `mapstructure:"sqlite_path"`

	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	// AnthropicPassthroughMode selects {off, always, fallback} for the
	// Anthropic-native passthrough provider (§4.7).
	AnthropicPassthroughMode string            `mapstructure:"anthropic_passthrough_mode"`
	AnthropicAPIKey          string            `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL         string            `mapstructure:"anthropic_base_url"`
	AnthropicModelMapping    map[string]string `mapstructure:"anthropic_model_mapping"`

	EventLogCapacity int `mapstructure:"event_log_capacity"`

	// MaintenanceCron is the cron schedule for the background sweep
	// (event-log trim, session eviction, proactive token refresh).
	MaintenanceCron string `mapstructure:"maintenance_cron"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("max_retries", 5)
	v.SetDefault("retry_base_ms", 1000)
	v.SetDefault("retry_max_ms", 60000)
	v.SetDefault("request_deadline_seconds", 300)
	v.SetDefault("default_cooldown_ms", 10000)
	v.SetDefault("max_wait_before_error_ms", 120000)
	v.SetDefault("max_accounts", 50)
	v.SetDefault("global_quota_threshold", 0)
	v.SetDefault("rate_limit_dedup_window_ms", 2000)
	v.SetDefault("max_consecutive_failures", 3)
	v.SetDefault("extended_cooldown_ms", 60000)
	v.SetDefault("session_ttl_seconds", 3600)
	v.SetDefault("sticky_window_seconds", 60)
	v.SetDefault("proactive_refresh_window_seconds", 300)
	v.SetDefault("scheduling_mode", string(SchedulingBalanced))
	v.SetDefault("health_score.initial", 70)
	v.SetDefault("health_score.success_reward", 1)
	v.SetDefault("health_score.rate_limit_penalty", -10)
	v.SetDefault("health_score.failure_penalty", -20)
	v.SetDefault("health_score.recovery_per_hour", 2)
	v.SetDefault("health_score.min_usable", 50)
	v.SetDefault("health_score.max_score", 100)
	v.SetDefault("quota.low_threshold", 0.10)
	v.SetDefault("quota.critical_threshold", 0.05)
	v.SetDefault("quota.stale_ms", 300000)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("sqlite_path", filepath.Join(utils.GetHomeDir(), ".config", "llm-gateway", "gateway.db"))
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("anthropic_passthrough_mode", "off")
	v.SetDefault("event_log_capacity", 1000)
	v.SetDefault("maintenance_cron", "*/5 * * * *")
}

// Load builds a Config by layering defaults, an optional config file, and
// environment variables (prefixed GATEWAY_, e.g. GATEWAY_REDIS_ADDR).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("gateway")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = filepath.Join(utils.GetHomeDir(), ".config", "llm-gateway", "config.yaml")
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		utils.Warn("[config] no config file at %s, using defaults+env", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.ModelMapping == nil {
		cfg.ModelMapping = make(map[string]string)
	}

	utils.SetDebug(cfg.Debug)
	return &cfg, nil
}

// GetPublic returns a copy of the config with secrets redacted, suitable
// for the admin status endpoint.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"apiKey":         redact(c.APIKey),
		"adminPassword":  redact(c.AdminPassword),
		"debug":          c.Debug,
		"logLevel":       c.LogLevel,
		"maxRetries":     c.MaxRetries,
		"schedulingMode": c.SchedulingMode,
		"port":           c.Port,
		"host":           c.Host,
		"redisAddr":      c.RedisAddr,
		"redisPassword":  redact(c.RedisPassword),
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
