package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ProxyConfig is the singleton row behind /admin/config (§3's ProxyConfig).
type ProxyConfig struct {
	Host              string
	Port              int
	SchedulingMode    string
	SessionStickiness bool
	AllowedModels     []string
	APIKey            string
}

// GetConfig returns the singleton config row, seeding defaults on first
// read if the row doesn't exist yet.
func (s *Store) GetConfig(ctx context.Context) (ProxyConfig, error) {
	var cfg ProxyConfig
	var allowedModelsJSON string
	var stickiness int

	err := s.db.QueryRowContext(ctx, `SELECT host, port, scheduling_mode, session_stickiness,
		allowed_models, api_key FROM proxy_config WHERE id = 1`).
		Scan(&cfg.Host, &cfg.Port, &cfg.SchedulingMode, &stickiness, &allowedModelsJSON, &cfg.APIKey)

	if err == sql.ErrNoRows {
		cfg = ProxyConfig{Host: "0.0.0.0", Port: 8080, SchedulingMode: "cache_first", SessionStickiness: true}
		if err := s.SetConfig(ctx, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("store: get config: %w", err)
	}

	cfg.SessionStickiness = stickiness != 0
	if allowedModelsJSON != "" {
		_ = json.Unmarshal([]byte(allowedModelsJSON), &cfg.AllowedModels)
	}
	return cfg, nil
}

// SetConfig replaces the singleton config row.
func (s *Store) SetConfig(ctx context.Context, cfg ProxyConfig) error {
	allowedModelsJSON, err := json.Marshal(cfg.AllowedModels)
	if err != nil {
		return fmt.Errorf("store: marshal allowed models: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO proxy_config
		(id, host, port, scheduling_mode, session_stickiness, allowed_models, api_key, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host = excluded.host, port = excluded.port, scheduling_mode = excluded.scheduling_mode,
			session_stickiness = excluded.session_stickiness, allowed_models = excluded.allowed_models,
			api_key = excluded.api_key, updated_at = excluded.updated_at`,
		cfg.Host, cfg.Port, cfg.SchedulingMode, boolToInt(cfg.SessionStickiness),
		string(allowedModelsJSON), cfg.APIKey, now, now)
	if err != nil {
		return fmt.Errorf("store: set config: %w", err)
	}
	return nil
}

// MonitorLogEntry is one row of proxy_monitor_logs, the admin request log.
type MonitorLogEntry struct {
	Timestamp    time.Time
	Method       string
	Path         string
	StatusCode   int
	LatencyMs    int64
	AccountEmail string
	Model        string
	InputTokens  int
	OutputTokens int
	ErrorMessage string
}

// RecordMonitorLog appends one request's outcome to the monitor log.
func (s *Store) RecordMonitorLog(ctx context.Context, e MonitorLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO proxy_monitor_logs
		(timestamp, method, path, status_code, latency_ms, account_email, model,
		 input_tokens, output_tokens, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Method, e.Path, e.StatusCode, e.LatencyMs,
		nullableString(e.AccountEmail), nullableString(e.Model),
		nullableInt(e.InputTokens), nullableInt(e.OutputTokens), nullableString(e.ErrorMessage))
	if err != nil {
		return fmt.Errorf("store: record monitor log: %w", err)
	}
	return nil
}

// TailMonitorLogs returns the most recent limit monitor-log entries, newest
// first, for the /admin/logs endpoint.
func (s *Store) TailMonitorLogs(ctx context.Context, limit int) ([]MonitorLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, method, path, status_code, latency_ms,
		account_email, model, input_tokens, output_tokens, error_message
		FROM proxy_monitor_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: tail monitor logs: %w", err)
	}
	defer rows.Close()

	var out []MonitorLogEntry
	for rows.Next() {
		var e MonitorLogEntry
		var ts int64
		var accountEmail, model, errMsg sql.NullString
		var inputTokens, outputTokens sql.NullInt64
		if err := rows.Scan(&ts, &e.Method, &e.Path, &e.StatusCode, &e.LatencyMs,
			&accountEmail, &model, &inputTokens, &outputTokens, &errMsg); err != nil {
			return nil, fmt.Errorf("store: scan monitor log: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.AccountEmail = accountEmail.String
		e.Model = model.String
		e.ErrorMessage = errMsg.String
		e.InputTokens = int(inputTokens.Int64)
		e.OutputTokens = int(outputTokens.Int64)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneMonitorLogs deletes monitor-log rows older than before, mirroring
// the rate-limit event log's own bounded-retention policy.
func (s *Store) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxy_monitor_logs WHERE timestamp < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: prune monitor logs: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
