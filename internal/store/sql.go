package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"dredger/internal/config"
	"dredger/pkg/types"
)

// SQLStore keeps dredge memory in a relational database, for deployments
// where several hosts share one reject/import history. Supported drivers
// are postgres and sqlite3.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// rebind converts $N placeholders to the ? form sqlite3 expects. Queries
// are written postgres-style and rebound per driver.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "sqlite3" {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS dredge_rejects (
		url TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dredge_imported (
		url TEXT PRIMARY KEY,
		library_id TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dredge_site_stats (
		site TEXT PRIMARY KEY,
		examined INTEGER NOT NULL,
		imported INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		last_run TIMESTAMP NOT NULL
	)`,
}

// NewSQLStore opens and migrates a SQL-backed store.
func NewSQLStore(cfg config.StoreConfig, logger *slog.Logger) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql store requires driver and dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql store: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sql store: %w", err)
		}
	}
	return &SQLStore{db: db, driver: cfg.Driver, logger: logger}, nil
}

func (s *SQLStore) key(rawURL string) string {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return rawURL
	}
	return canonical
}

func (s *SQLStore) exists(ctx context.Context, table, url string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM `+table+` WHERE url = $1`), url).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("store lookup failed", "table", table, "error", err)
		}
		return false
	}
	return true
}

func (s *SQLStore) IsRejected(ctx context.Context, rawURL string) bool {
	return s.exists(ctx, "dredge_rejects", s.key(rawURL))
}

func (s *SQLStore) IsImported(ctx context.Context, rawURL string) bool {
	return s.exists(ctx, "dredge_imported", s.key(rawURL))
}

func (s *SQLStore) RecordReject(ctx context.Context, rawURL string, reason types.RejectReason) error {
	key := s.key(rawURL)
	if s.exists(ctx, "dredge_imported", key) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO dredge_rejects (url, reason, recorded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (url) DO NOTHING`),
		key, string(reason), time.Now().UTC())
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("record reject %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) RecordImported(ctx context.Context, rawURL, libraryID string) error {
	key := s.key(rawURL)
	if s.exists(ctx, "dredge_rejects", key) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO dredge_imported (url, library_id, recorded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (url) DO NOTHING`),
		key, libraryID, time.Now().UTC())
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("record imported %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) SaveStats(ctx context.Context, stats types.SiteStats) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO dredge_site_stats (site, examined, imported, rejected, skipped, last_run)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (site) DO UPDATE SET
			examined = EXCLUDED.examined,
			imported = EXCLUDED.imported,
			rejected = EXCLUDED.rejected,
			skipped = EXCLUDED.skipped,
			last_run = EXCLUDED.last_run`),
		stats.Site, stats.Examined, stats.Imported, stats.Rejected, stats.Skipped, stats.LastRun.UTC())
	if err != nil {
		return fmt.Errorf("save stats for %s: %w", stats.Site, err)
	}
	return nil
}

// Flush is a no-op: every record is written through immediately.
func (s *SQLStore) Flush() error { return nil }

func (s *SQLStore) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
