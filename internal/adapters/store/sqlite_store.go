package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite driver names: "sqlite" is the pure Go modernc driver, "sqlite3" the cgo one
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		source TEXT NOT NULL,
		email_id TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		timestamp_us INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		timestamp_reliable BOOLEAN NOT NULL DEFAULT 0,
		urls TEXT NOT NULL DEFAULT '[]',
		is_phishing BOOLEAN,
		empty_body BOOLEAN NOT NULL DEFAULT 0,
		received_at_us INTEGER NOT NULL,
		PRIMARY KEY (source, email_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_timestamp ON emails(timestamp_us)`,
	`CREATE TABLE IF NOT EXISTS watermarks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		last_processed_us INTEGER NOT NULL
	)`,
}

// SQLiteStore is a SQLite implementation of the MessageStore interface
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the schema
func NewSQLiteStore(driver, dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverModernc
	}
	db, err := sqlx.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if strings.Contains(dbPath, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logger.Info("Opened SQLite store", zap.String("driver", driver), zap.String("path", dbPath))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// IsSeen reports whether (source, id) has been stored
func (s *SQLiteStore) IsSeen(ctx context.Context, source core.Source, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM emails WHERE source = ? AND email_id = ?
	`, string(source), id)
	if err != nil {
		return false, fmt.Errorf("failed to query seen index: %w", err)
	}
	return n > 0, nil
}

// UpsertMessage inserts the message or updates the existing (source, id) row.
// Both statements run in one transaction so the write is atomic.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	row, err := toRow(msg)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			source, email_id, sender, subject, body, timestamp_us, timestamp,
			timestamp_reliable, urls, is_phishing, empty_body, received_at_us
		) VALUES (
			:source, :email_id, :sender, :subject, :body, :timestamp_us, :timestamp,
			:timestamp_reliable, :urls, :is_phishing, :empty_body, :received_at_us
		)
	`, row)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if inserted == 0 {
		_, err = tx.NamedExecContext(ctx, `
			UPDATE emails SET
				sender = :sender, subject = :subject, body = :body,
				timestamp_us = :timestamp_us, timestamp = :timestamp,
				timestamp_reliable = :timestamp_reliable, urls = :urls,
				is_phishing = :is_phishing, empty_body = :empty_body,
				received_at_us = :received_at_us
			WHERE source = :source AND email_id = :email_id
		`, row)
		if err != nil {
			return false, fmt.Errorf("failed to update message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit message: %w", err)
	}
	return inserted > 0, nil
}

// GetWatermark returns the source watermark or nil
func (s *SQLiteStore) GetWatermark(ctx context.Context, source core.Source) (*core.Watermark, error) {
	var row watermarkRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, source, last_processed_us FROM watermarks WHERE id = ?
	`, core.WatermarkKey(source))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query watermark: %w", err)
	}
	return row.toWatermark(), nil
}

// AdvanceWatermark moves the watermark forward; MAX() keeps it monotonic
func (s *SQLiteStore) AdvanceWatermark(ctx context.Context, source core.Source, ts time.Time) (*core.Watermark, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (id, source, last_processed_us) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_processed_us = MAX(watermarks.last_processed_us, excluded.last_processed_us)
	`, core.WatermarkKey(source), string(source), ts.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}
	return s.GetWatermark(ctx, source)
}

// ListMessages returns stored messages, newest first
func (s *SQLiteStore) ListMessages(ctx context.Context, filter core.MessageFilter) ([]*core.Message, error) {
	query, args := listQuery(filter)
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rowsToMessages(rows)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}
	return nil
}
