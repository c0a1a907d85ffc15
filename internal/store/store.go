// Package store is the gateway's durable relational store: the SQLite
// tables that survive a full process + Redis loss (accounts, which account
// is active, the singleton proxy config, and the request-monitor log).
// internal/cache's Redis mirror and internal/tokenpool's in-process pool
// are populated from this store on boot; this package is the system of
// record, not a cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection with the gateway's schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, matches teacher's own usage

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	display_name TEXT,
	photo_url TEXT,
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	managed_project_id TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'unknown',
	expires_at INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS current_account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	account_id INTEGER REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS proxy_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	host TEXT NOT NULL DEFAULT '0.0.0.0',
	port INTEGER NOT NULL DEFAULT 8080,
	scheduling_mode TEXT NOT NULL DEFAULT 'cache_first',
	session_stickiness INTEGER NOT NULL DEFAULT 1,
	allowed_models TEXT NOT NULL DEFAULT '[]',
	api_key TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS proxy_monitor_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	account_email TEXT,
	model TEXT,
	input_tokens INTEGER,
	output_tokens INTEGER,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_monitor_logs_timestamp ON proxy_monitor_logs(timestamp);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// AccountRow is one row of the accounts table.
type AccountRow struct {
	ID               int64
	Email            string
	DisplayName      string
	PhotoURL         string
	AccessToken      string
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
	Tier             string
	ExpiresAt        time.Time
	IsActive         bool
	SortOrder        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ListAccounts returns every account row ordered by sort_order.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, display_name, photo_url, access_token,
		refresh_token, project_id, managed_project_id, tier, expires_at, is_active, sort_order,
		created_at, updated_at FROM accounts ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var a AccountRow
		var expiresAt, createdAt, updatedAt int64
		var isActive int
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PhotoURL, &a.AccessToken,
			&a.RefreshToken, &a.ProjectID, &a.ManagedProjectID, &a.Tier, &expiresAt, &isActive,
			&a.SortOrder, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan account: %w", err)
		}
		a.ExpiresAt = time.UnixMilli(expiresAt)
		a.CreatedAt = time.UnixMilli(createdAt)
		a.UpdatedAt = time.UnixMilli(updatedAt)
		a.IsActive = isActive != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount inserts a new account or updates the existing row for the
// same email, returning its id.
func (s *Store) UpsertAccount(ctx context.Context, a AccountRow) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `INSERT INTO accounts
		(email, display_name, photo_url, access_token, refresh_token, project_id,
		 managed_project_id, tier, expires_at, is_active, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			display_name = excluded.display_name,
			photo_url = excluded.photo_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			project_id = excluded.project_id,
			managed_project_id = excluded.managed_project_id,
			tier = excluded.tier,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		a.Email, a.DisplayName, a.PhotoURL, a.AccessToken, a.RefreshToken, a.ProjectID,
		a.ManagedProjectID, a.Tier, a.ExpiresAt.UnixMilli(), boolToInt(a.IsActive), a.SortOrder,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("store: upsert account %s: %w", a.Email, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT update path doesn't report LastInsertId; look the row up.
		var existing int64
		if qerr := s.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE email = ?`, a.Email).Scan(&existing); qerr != nil {
			return 0, fmt.Errorf("store: resolve account id for %s: %w", a.Email, qerr)
		}
		return existing, nil
	}
	return id, nil
}

// DeleteAccount removes an account by email.
func (s *Store) DeleteAccount(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("store: delete account %s: %w", email, err)
	}
	return nil
}

// SetCurrentAccount records which account the CLI/webui last selected as
// "active" for single-account admin operations (distinct from the pool,
// which uses every enabled account concurrently).
func (s *Store) SetCurrentAccount(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO current_account (id, account_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET account_id = excluded.account_id`, accountID)
	if err != nil {
		return fmt.Errorf("store: set current account: %w", err)
	}
	return nil
}

// GetCurrentAccount returns the currently selected account id, if any.
func (s *Store) GetCurrentAccount(ctx context.Context) (int64, bool, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM current_account WHERE id = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get current account: %w", err)
	}
	return id.Int64, id.Valid, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
