package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the MessageStore interface
type MySQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewMySQLStore creates a new MySQL store
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS emails (
			source VARCHAR(16) NOT NULL,
			email_id VARCHAR(512) NOT NULL,
			sender VARCHAR(1024) NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			body MEDIUMTEXT NOT NULL,
			timestamp_us BIGINT NOT NULL,
			timestamp VARCHAR(40) NOT NULL,
			timestamp_reliable BOOLEAN NOT NULL DEFAULT FALSE,
			urls TEXT NOT NULL,
			is_phishing BOOLEAN NULL,
			empty_body BOOLEAN NOT NULL DEFAULT FALSE,
			received_at_us BIGINT NOT NULL,
			PRIMARY KEY (source, email_id),
			INDEX idx_emails_timestamp (timestamp_us)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create emails table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS watermarks (
			id VARCHAR(64) PRIMARY KEY,
			source VARCHAR(16) NOT NULL,
			last_processed_us BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create watermarks table: %w", err)
	}

	return &MySQLStore{db: db, logger: logger}, nil
}

// IsSeen reports whether (source, id) has been stored
func (s *MySQLStore) IsSeen(ctx context.Context, source core.Source, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM emails WHERE source = ? AND email_id = ?
	`, string(source), id)
	if err != nil {
		return false, fmt.Errorf("failed to query seen index: %w", err)
	}
	return n > 0, nil
}

// UpsertMessage inserts or updates the (source, id) row in one statement.
// MySQL reports 1 affected row for an insert and 2 (or 0) for an update.
func (s *MySQLStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	row, err := toRow(msg)
	if err != nil {
		return false, err
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO emails (
			source, email_id, sender, subject, body, timestamp_us, timestamp,
			timestamp_reliable, urls, is_phishing, empty_body, received_at_us
		) VALUES (
			:source, :email_id, :sender, :subject, :body, :timestamp_us, :timestamp,
			:timestamp_reliable, :urls, :is_phishing, :empty_body, :received_at_us
		)
		ON DUPLICATE KEY UPDATE
			sender = VALUES(sender),
			subject = VALUES(subject),
			body = VALUES(body),
			timestamp_us = VALUES(timestamp_us),
			timestamp = VALUES(timestamp),
			timestamp_reliable = VALUES(timestamp_reliable),
			urls = VALUES(urls),
			is_phishing = VALUES(is_phishing),
			empty_body = VALUES(empty_body),
			received_at_us = VALUES(received_at_us)
	`, row)
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected for upsert", zap.Error(err))
		return false, nil
	}
	return affected == 1, nil
}

// GetWatermark returns the source watermark or nil
func (s *MySQLStore) GetWatermark(ctx context.Context, source core.Source) (*core.Watermark, error) {
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

// AdvanceWatermark moves the watermark forward; GREATEST() keeps it monotonic
func (s *MySQLStore) AdvanceWatermark(ctx context.Context, source core.Source, ts time.Time) (*core.Watermark, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (id, source, last_processed_us) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_processed_us = GREATEST(last_processed_us, VALUES(last_processed_us))
	`, core.WatermarkKey(source), string(source), ts.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}
	return s.GetWatermark(ctx, source)
}

// ListMessages returns stored messages, newest first
func (s *MySQLStore) ListMessages(ctx context.Context, filter core.MessageFilter) ([]*core.Message, error) {
	query, args := listQuery(filter)
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rowsToMessages(rows)
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close MySQL database: %w", err)
	}
	return nil
}
