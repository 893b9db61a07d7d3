package api

import (
	"time"

	"github.com/mikey/phish-filter/internal/core"
)

// AnalyzeRequest is the body of POST /emails/analyze. A token selects the
// Gmail flow, a password selects IMAP.
type AnalyzeRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
	Token    string `json:"token"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Limit    *int   `json:"limit"`
}

// EmailResponse is one message in an API response
type EmailResponse struct {
	EmailID           string    `json:"email_id"`
	Source            string    `json:"source"`
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	Timestamp         string    `json:"timestamp"`
	TimestampReliable bool      `json:"timestamp_reliable"`
	URLs              []string  `json:"urls"`
	IsPhishing        *bool     `json:"is_phishing"`
	EmptyBody         bool      `json:"empty_body"`
	ReceivedAt        time.Time `json:"received_at"`
}

// RunSummary describes the ingestion run behind a response
type RunSummary struct {
	RunID     string  `json:"run_id"`
	Listed    int     `json:"listed"`
	Processed int     `json:"processed"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Watermark *string `json:"watermark"`
}

// EmailsResponse wraps a list of messages
type EmailsResponse struct {
	Emails []EmailResponse `json:"emails"`
	Run    *RunSummary     `json:"run,omitempty"`
}

// ErrorResponse is returned with every 4xx and 5xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

func toEmailResponse(m *core.Message) EmailResponse {
	urls := m.URLs
	if urls == nil {
		urls = []string{}
	}
	return EmailResponse{
		EmailID:           m.ID,
		Source:            string(m.Source),
		Sender:            m.Sender,
		Subject:           m.Subject,
		Body:              m.Body,
		Timestamp:         core.FormatTimestamp(m.Timestamp),
		TimestampReliable: m.TimestampReliable,
		URLs:              urls,
		IsPhishing:        m.IsPhishing,
		EmptyBody:         m.EmptyBody,
		ReceivedAt:        m.ReceivedAt.UTC(),
	}
}

func toEmailsResponse(msgs []*core.Message) []EmailResponse {
	out := make([]EmailResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toEmailResponse(m))
	}
	return out
}

func toRunSummary(r *core.BatchReport) *RunSummary {
	s := &RunSummary{
		RunID:     r.RunID,
		Listed:    r.Listed,
		Processed: r.Processed,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
	}
	if r.Watermark != nil {
		ts := core.FormatTimestamp(r.Watermark.LastProcessedAt)
		s.Watermark = &ts
	}
	return s
}
