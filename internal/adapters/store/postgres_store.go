package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresStore is a PostgreSQL implementation of the MessageStore interface
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPostgresStore connects with gorm and migrates the schema
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := db.AutoMigrate(&emailRow{}, &watermarkRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// IsSeen reports whether (source, id) has been stored
func (s *PostgresStore) IsSeen(ctx context.Context, source core.Source, id string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&emailRow{}).
		Where("source = ? AND email_id = ?", string(source), id).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to query seen index: %w", err)
	}
	return n > 0, nil
}

// UpsertMessage inserts or updates the (source, id) row in one statement.
// xmax is zero only for a freshly inserted tuple.
func (s *PostgresStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	row, err := toRow(msg)
	if err != nil {
		return false, err
	}

	var result struct {
		Inserted bool
	}
	err = s.db.WithContext(ctx).Raw(`
		INSERT INTO emails (
			source, email_id, sender, subject, body, timestamp_us, timestamp,
			timestamp_reliable, urls, is_phishing, empty_body, received_at_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, email_id) DO UPDATE SET
			sender = EXCLUDED.sender,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			timestamp_us = EXCLUDED.timestamp_us,
			timestamp = EXCLUDED.timestamp,
			timestamp_reliable = EXCLUDED.timestamp_reliable,
			urls = EXCLUDED.urls,
			is_phishing = EXCLUDED.is_phishing,
			empty_body = EXCLUDED.empty_body,
			received_at_us = EXCLUDED.received_at_us
		RETURNING (xmax = 0) AS inserted
	`, row.Source, row.EmailID, row.Sender, row.Subject, row.Body, row.TimestampUS, row.Timestamp,
		row.TimestampReliable, row.URLs, row.IsPhishing, row.EmptyBody, row.ReceivedAtUS,
	).Scan(&result).Error
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}
	return result.Inserted, nil
}

// GetWatermark returns the source watermark or nil
func (s *PostgresStore) GetWatermark(ctx context.Context, source core.Source) (*core.Watermark, error) {
	var row watermarkRow
	err := s.db.WithContext(ctx).Where("id = ?", core.WatermarkKey(source)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query watermark: %w", err)
	}
	return row.toWatermark(), nil
}

// AdvanceWatermark moves the watermark forward; GREATEST() keeps it monotonic
func (s *PostgresStore) AdvanceWatermark(ctx context.Context, source core.Source, ts time.Time) (*core.Watermark, error) {
	row := watermarkRow{
		ID:              core.WatermarkKey(source),
		Source:          string(source),
		LastProcessedUS: ts.UnixMicro(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_processed_us": gorm.Expr("GREATEST(watermarks.last_processed_us, EXCLUDED.last_processed_us)"),
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}
	return s.GetWatermark(ctx, source)
}

// ListMessages returns stored messages, newest first
func (s *PostgresStore) ListMessages(ctx context.Context, filter core.MessageFilter) ([]*core.Message, error) {
	q := s.db.WithContext(ctx).Model(&emailRow{})
	if filter.Source != "" {
		q = q.Where("source = ?", string(filter.Source))
	}
	if filter.IsPhishing != nil {
		q = q.Where("is_phishing = ?", *filter.IsPhishing)
	}
	q = q.Order("timestamp_us DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []emailRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return rowsToMessages(rows)
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get PostgreSQL handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL database: %w", err)
	}
	return nil
}
