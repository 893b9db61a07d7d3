// Package normalize turns raw IMAP and Gmail payloads into core.Message values.
package normalize

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// Options tunes normalization
type Options struct {
	MaxFutureSkew time.Duration
	HTMLFallback  bool
}

// Normalizer implements core.Normalizer for both mail sources
type Normalizer struct {
	logger *zap.Logger
	opts   Options
	now    func() time.Time
}

// New creates a new normalizer
func New(logger *zap.Logger, opts Options) *Normalizer {
	return &Normalizer{
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Normalize converts raw into a Message; malformed input yields *core.ParseError
func (n *Normalizer) Normalize(raw *core.RawMessage) (*core.Message, error) {
	if raw == nil || len(raw.Data) == 0 {
		handle := ""
		if raw != nil {
			handle = raw.Handle
		}
		return nil, &core.ParseError{Handle: handle, Err: fmt.Errorf("empty payload")}
	}

	var (
		msg *core.Message
		err error
	)
	switch raw.Source {
	case core.SourceIMAP:
		msg, err = n.normalizeRFC822(raw)
	case core.SourceGmail:
		msg, err = n.normalizeGmail(raw)
	default:
		err = fmt.Errorf("unsupported source %q", raw.Source)
	}
	if err != nil {
		return nil, &core.ParseError{Handle: raw.Handle, Err: err}
	}

	msg.URLs = ExtractURLs(msg.Body)
	if msg.Body == "" {
		msg.EmptyBody = true
		n.logger.Debug("Message has an empty body",
			zap.String("source", string(msg.Source)),
			zap.String("message_id", msg.ID))
	}
	return msg, nil
}

func (n *Normalizer) normalizeRFC822(raw *core.RawMessage) (*core.Message, error) {
	entity, readErr := message.Read(bytes.NewReader(raw.Data))
	if readErr != nil && !isCharsetErr(readErr) {
		return nil, fmt.Errorf("failed to read message: %w", readErr)
	}
	h := mail.Header{Header: entity.Header}

	id, _ := h.MessageID()
	if id == "" {
		id = raw.Handle
	}
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	sender, err := h.Text("From")
	if err != nil {
		sender = h.Get("From")
	}

	var parts bodyParts
	if err := walkEntity(entity, message.IsUnknownCharset(readErr), &parts); err != nil {
		return nil, err
	}

	ts, reliable := n.timestamp(h.Get("Date"))
	return &core.Message{
		ID:                id,
		Source:            core.SourceIMAP,
		Sender:            strings.TrimSpace(sender),
		Subject:           strings.TrimSpace(subject),
		Body:              parts.text(n.opts.HTMLFallback),
		Timestamp:         ts,
		TimestampReliable: reliable,
	}, nil
}

func (n *Normalizer) normalizeGmail(raw *core.RawMessage) (*core.Message, error) {
	gm, err := decodeGmailMessage(raw.Data)
	if err != nil {
		return nil, err
	}

	var parts bodyParts
	if err := walkGmailPart(gm.Payload, &parts); err != nil {
		return nil, err
	}

	dateInput := gmailHeader(gm.Payload, "Date")
	if gm.InternalDate > 0 {
		dateInput = strconv.FormatInt(gm.InternalDate, 10)
	}
	ts, reliable := n.timestamp(dateInput)

	return &core.Message{
		ID:                gm.Id,
		Source:            core.SourceGmail,
		Sender:            strings.TrimSpace(gmailHeader(gm.Payload, "From")),
		Subject:           strings.TrimSpace(gmailHeader(gm.Payload, "Subject")),
		Body:              parts.text(n.opts.HTMLFallback),
		Timestamp:         ts,
		TimestampReliable: reliable,
	}, nil
}

func (n *Normalizer) timestamp(s string) (time.Time, bool) {
	now := n.now()
	ts, reliable := ParseTimestamp(s, now)
	ts, guarded := guardFuture(ts, reliable, now, n.opts.MaxFutureSkew)
	if reliable && !guarded {
		n.logger.Warn("Message timestamp is in the future; treating it as unreliable",
			zap.String("timestamp", core.FormatTimestamp(ts)))
	}
	return ts, guarded
}
