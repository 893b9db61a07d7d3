package core

import (
	"context"
	"time"
)

// MailSource opens sessions against one kind of mailbox
type MailSource interface {
	// Source returns the tag stamped on every message from this source
	Source() Source

	// Open connects and authenticates. Failures are *AuthError or *ConnectionError.
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// Session is an open, authenticated mailbox connection
type Session interface {
	// List returns up to limit message handles in source-native order
	List(ctx context.Context, limit int) ([]string, error)

	// Fetch retrieves the raw payload behind a handle
	Fetch(ctx context.Context, handle string) (*RawMessage, error)

	// Close releases the connection
	Close(ctx context.Context) error
}

// Normalizer converts raw payloads into canonical messages
type Normalizer interface {
	Normalize(raw *RawMessage) (*Message, error)
}

// Classifier decides whether a message is phishing
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (bool, error)
}

// MessageStore persists processed messages, the seen-id index and watermarks.
// Writes must be atomic so concurrent runs never double-store.
type MessageStore interface {
	// IsSeen reports whether (source, id) has been persisted
	IsSeen(ctx context.Context, source Source, id string) (bool, error)

	// UpsertMessage inserts or updates by (source, id); created is true for a new row
	UpsertMessage(ctx context.Context, msg *Message) (created bool, err error)

	// GetWatermark returns nil when the source has no watermark yet
	GetWatermark(ctx context.Context, source Source) (*Watermark, error)

	// AdvanceWatermark moves the watermark to ts unless it is already later
	AdvanceWatermark(ctx context.Context, source Source, ts time.Time) (*Watermark, error)

	// ListMessages returns stored messages, newest first
	ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)

	// Close releases the underlying connection
	Close() error
}

// Notifier publishes an event for every persisted phishing message
type Notifier interface {
	NotifyPhishing(ctx context.Context, msg *Message) error
}
