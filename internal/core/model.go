package core

import (
	"fmt"
	"time"
)

// Source identifies the mailbox protocol a message was ingested from
type Source string

const (
	SourceIMAP  Source = "imap"
	SourceGmail Source = "gmail"
)

// ParseSource converts a configuration or request value into a Source
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceIMAP, SourceGmail:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unsupported mail source: %q", s)
	}
}

// TimestampLayout renders instants as ISO-8601 with an explicit offset
const TimestampLayout = "2006-01-02T15:04:05.999999-07:00"

// FormatTimestamp renders t in UTC using TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Credentials carries whatever a MailSource needs to open a session
type Credentials struct {
	Username string
	Password string
	Token    string
	Host     string
	Port     int
}

// RawMessage is a fetched but not yet normalized message.
// Data holds RFC 822 bytes for IMAP and the API JSON document for Gmail.
type RawMessage struct {
	Source Source
	Handle string
	Data   []byte
}

// Message is the canonical, source-independent representation of an email
type Message struct {
	ID                string
	Source            Source
	Sender            string
	Subject           string
	Body              string
	Timestamp         time.Time
	TimestampReliable bool
	URLs              []string
	IsPhishing        *bool
	EmptyBody         bool
	ReceivedAt        time.Time
}

// MessageKey identifies a message; ids are only unique within a source
type MessageKey struct {
	Source Source
	ID     string
}

func (k MessageKey) String() string {
	return string(k.Source) + ":" + k.ID
}

// Key returns the (source, id) identity of the message
func (m *Message) Key() MessageKey {
	return MessageKey{Source: m.Source, ID: m.ID}
}

// Watermark is the per-source high-water mark of processed message timestamps
type Watermark struct {
	Source          Source
	LastProcessedAt time.Time
}

// WatermarkKey is the persisted identifier of a source's watermark
func WatermarkKey(source Source) string {
	return "last_processed_time_" + string(source)
}

// MessageFilter narrows ListMessages results
type MessageFilter struct {
	Source     Source
	IsPhishing *bool
	Limit      int
}

// RunRequest describes one ingestion run
type RunRequest struct {
	Source      Source
	Credentials Credentials
	Limit       int
}

// RunState is a stage of the ingestion state machine
type RunState string

const (
	StateConnecting         RunState = "CONNECTING"
	StateListing            RunState = "LISTING"
	StateFetching           RunState = "FETCHING"
	StateNormalizing        RunState = "NORMALIZING"
	StateFiltering          RunState = "FILTERING"
	StateClassifying        RunState = "CLASSIFYING"
	StatePersisting         RunState = "PERSISTING"
	StateAdvancingWatermark RunState = "ADVANCING_WATERMARK"
	StateDisconnected       RunState = "DISCONNECTED"
)

// OutcomeStatus is the fate of a single listed message
type OutcomeStatus string

const (
	OutcomeProcessed OutcomeStatus = "processed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Skip reasons reported by the dedup filter
const (
	ReasonAlreadySeen = "already_seen"
	ReasonNotNewer    = "not_newer_than_watermark"
	ReasonCancelled   = "cancelled"
)

// MessageOutcome records what happened to one message handle
type MessageOutcome struct {
	Handle    string
	MessageID string
	Status    OutcomeStatus
	Stage     RunState
	Reason    string
}

// BatchReport aggregates the result of one ingestion run
type BatchReport struct {
	RunID             string
	Source            Source
	Listed            int
	Messages          []*Message
	Outcomes          []MessageOutcome
	Processed         int
	Skipped           int
	Failed            int
	PreviousWatermark *Watermark
	Watermark         *Watermark
	WatermarkError    error
	Cancelled         bool
	StartedAt         time.Time
	FinishedAt        time.Time
}

func (r *BatchReport) record(o MessageOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}
