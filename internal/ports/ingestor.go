package ports

import (
	"context"

	"github.com/mikey/phish-filter/internal/core"
)

// Ingestor runs one ingestion pass against a mailbox
type Ingestor interface {
	// Run fetches, classifies and persists new messages for req.Source
	Run(ctx context.Context, req core.RunRequest) (*core.BatchReport, error)
}

// MessageReader lists stored results
type MessageReader interface {
	ListMessages(ctx context.Context, filter core.MessageFilter) ([]*core.Message, error)
}
