// Package auditlog is a strictly additive, best-effort audit trail for the
// oracle's contract callbacks. It is disabled entirely when no database
// URL is configured, and every write failure is logged and swallowed —
// the Swap Coordinator and Timeout Sweeper never block, retry, or alter
// behavior because the audit trail is unavailable (SPEC_FULL.md §11).
package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled Postgres connection used only to append callback
// records; it is never read from by the oracle's own decision-making —
// only by external operators/dashboards.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures an optional Client behavior.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New opens a pooled connection to databaseURL and applies pending
// migrations. Returns an error if the connection cannot be established —
// callers should treat this as fatal only if the audit trail was
// explicitly requested, never as a reason to fail oracle startup.
func New(databaseURL string, opts ...Option) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("auditlog: database URL cannot be empty")
	}

	c := &Client{logger: log.New(log.Writer(), "[auditlog] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	c.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	if err := c.migrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}

	return c, nil
}

// Close releases the underlying pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordCallback satisfies oracle.Recorder, the Coordinator's audit hook
// (the Sweeper has none). Write failures are logged, never returned —
// the caller has no error channel to report them through by design.
func (c *Client) RecordCallback(chain, callback, tradeID, txHash string, callErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO callback_log (chain, callback, trade_id, tx_hash, error) VALUES ($1, $2, $3, $4, $5)`,
		chain, callback, tradeID, txHash, errText,
	)
	if err != nil {
		c.logger.Printf("failed to record callback chain=%s callback=%s trade_id=%s: %v", chain, callback, tradeID, err)
	}
}

type migration struct {
	version string
	sql     string
}

func (c *Client) migrateUp(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS auditlog_schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	migrations, err := c.loadMigrations()
	if err != nil {
		return err
	}

	applied := make(map[string]bool)
	rows, err := c.db.QueryContext(ctx, `SELECT version FROM auditlog_schema_migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		c.logger.Printf("applying migration %s", m.version)
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO auditlog_schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		version := strings.TrimSuffix(d.Name(), ".sql")
		out = append(out, migration{version: version, sql: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
