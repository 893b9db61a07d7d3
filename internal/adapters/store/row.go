package store

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mikey/phish-filter/internal/core"
)

// emailRow is the persisted shape of a message, shared by the SQL stores
type emailRow struct {
	Source            string       `db:"source" gorm:"column:source;primaryKey;size:16"`
	EmailID           string       `db:"email_id" gorm:"column:email_id;primaryKey;size:512"`
	Sender            string       `db:"sender" gorm:"column:sender"`
	Subject           string       `db:"subject" gorm:"column:subject"`
	Body              string       `db:"body" gorm:"column:body"`
	TimestampUS       int64        `db:"timestamp_us" gorm:"column:timestamp_us;index"`
	Timestamp         string       `db:"timestamp" gorm:"column:timestamp"`
	TimestampReliable bool         `db:"timestamp_reliable" gorm:"column:timestamp_reliable"`
	URLs              string       `db:"urls" gorm:"column:urls"`
	IsPhishing        sql.NullBool `db:"is_phishing" gorm:"column:is_phishing"`
	EmptyBody         bool         `db:"empty_body" gorm:"column:empty_body"`
	ReceivedAtUS      int64        `db:"received_at_us" gorm:"column:received_at_us"`
}

// TableName binds the row to the emails table for gorm
func (emailRow) TableName() string { return "emails" }

// watermarkRow is the persisted shape of a source watermark
type watermarkRow struct {
	ID              string `db:"id" gorm:"column:id;primaryKey;size:64"`
	Source          string `db:"source" gorm:"column:source"`
	LastProcessedUS int64  `db:"last_processed_us" gorm:"column:last_processed_us"`
}

// TableName binds the row to the watermarks table for gorm
func (watermarkRow) TableName() string { return "watermarks" }

func toRow(msg *core.Message) (*emailRow, error) {
	urls := msg.URLs
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode urls: %w", err)
	}
	row := &emailRow{
		Source:            string(msg.Source),
		EmailID:           msg.ID,
		Sender:            msg.Sender,
		Subject:           msg.Subject,
		Body:              msg.Body,
		TimestampUS:       msg.Timestamp.UnixMicro(),
		Timestamp:         core.FormatTimestamp(msg.Timestamp),
		TimestampReliable: msg.TimestampReliable,
		URLs:              string(encoded),
		EmptyBody:         msg.EmptyBody,
		ReceivedAtUS:      msg.ReceivedAt.UnixMicro(),
	}
	if msg.IsPhishing != nil {
		row.IsPhishing = sql.NullBool{Bool: *msg.IsPhishing, Valid: true}
	}
	return row, nil
}

func (r *emailRow) toMessage() (*core.Message, error) {
	var urls []string
	if r.URLs != "" {
		if err := json.Unmarshal([]byte(r.URLs), &urls); err != nil {
			return nil, fmt.Errorf("failed to decode urls for %s: %w", r.EmailID, err)
		}
	}
	msg := &core.Message{
		ID:                r.EmailID,
		Source:            core.Source(r.Source),
		Sender:            r.Sender,
		Subject:           r.Subject,
		Body:              r.Body,
		Timestamp:         time.UnixMicro(r.TimestampUS).UTC(),
		TimestampReliable: r.TimestampReliable,
		URLs:              urls,
		EmptyBody:         r.EmptyBody,
		ReceivedAt:        time.UnixMicro(r.ReceivedAtUS).UTC(),
	}
	if r.IsPhishing.Valid {
		v := r.IsPhishing.Bool
		msg.IsPhishing = &v
	}
	return msg, nil
}

func (r *watermarkRow) toWatermark() *core.Watermark {
	return &core.Watermark{
		Source:          core.Source(r.Source),
		LastProcessedAt: time.UnixMicro(r.LastProcessedUS).UTC(),
	}
}

func rowsToMessages(rows []emailRow) ([]*core.Message, error) {
	out := make([]*core.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// listQuery builds the shared ListMessages query for the sqlx stores
func listQuery(filter core.MessageFilter) (string, []interface{}) {
	query := `SELECT * FROM emails WHERE 1=1`
	var args []interface{}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.IsPhishing != nil {
		query += ` AND is_phishing = ?`
		args = append(args, *filter.IsPhishing)
	}
	query += ` ORDER BY timestamp_us DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return query, args
}
