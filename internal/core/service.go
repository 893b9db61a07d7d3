package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SenderPolicy short-circuits classification for trusted senders
type SenderPolicy interface {
	IsWhitelisted(from string) bool
}

// IngestOptions bounds the time spent per message and on session release
type IngestOptions struct {
	MessageTimeout time.Duration
	CloseTimeout   time.Duration
}

// IngestionService drives one fetch, normalize, filter, classify, persist
// pass over a mailbox and then advances the source watermark.
type IngestionService struct {
	sources    map[Source]MailSource
	normalizer Normalizer
	classifier Classifier
	store      MessageStore
	notifier   Notifier
	trusted    SenderPolicy
	logger     *zap.Logger
	opts       IngestOptions
	now        func() time.Time
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	sources []MailSource,
	normalizer Normalizer,
	classifier Classifier,
	store MessageStore,
	notifier Notifier,
	trusted SenderPolicy,
	logger *zap.Logger,
	opts IngestOptions,
) *IngestionService {
	bySource := make(map[Source]MailSource, len(sources))
	for _, src := range sources {
		bySource[src.Source()] = src
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 60 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}
	return &IngestionService{
		sources:    bySource,
		normalizer: normalizer,
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		trusted:    trusted,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// Run ingests up to req.Limit messages from the requested source.
// Connection and listing failures are returned as *ConnectionError; per-message
// failures are recorded in the report and never abort the batch. On
// cancellation the partial report is returned together with ctx.Err().
func (s *IngestionService) Run(ctx context.Context, req RunRequest) (*BatchReport, error) {
	src, ok := s.sources[req.Source]
	if !ok {
		return nil, fmt.Errorf("unsupported mail source: %q", req.Source)
	}

	report := &BatchReport{
		RunID:     uuid.NewString(),
		Source:    req.Source,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("source", string(req.Source)),
	)
	defer func() {
		report.FinishedAt = s.now().UTC()
		logger.Info("Ingestion run finished",
			zap.String("state", string(StateDisconnected)),
			zap.Int("listed", report.Listed),
			zap.Int("processed", report.Processed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Bool("cancelled", report.Cancelled))
	}()

	logger.Debug("Opening mail session", zap.String("state", string(StateConnecting)))
	session, err := src.Open(ctx, req.Credentials)
	if err != nil {
		logger.Warn("Failed to open mail session", zap.Error(err))
		return report, asConnectionError(req.Source, err)
	}
	defer s.closeSession(logger, session)

	logger.Debug("Listing candidate messages", zap.String("state", string(StateListing)))
	handles, err := session.List(ctx, req.Limit)
	if err != nil {
		logger.Warn("Failed to list messages", zap.Error(err))
		return report, asConnectionError(req.Source, fmt.Errorf("failed to list messages: %w", err))
	}
	report.Listed = len(handles)

	wm, err := s.store.GetWatermark(ctx, req.Source)
	if err != nil {
		return report, &PersistenceError{Key: WatermarkKey(req.Source), Err: err}
	}
	report.PreviousWatermark = wm
	report.Watermark = wm

	var persisted []*Message
	for _, handle := range handles {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		msg, outcome := s.processMessage(ctx, logger, session, req.Source, handle, wm)
		report.record(outcome)
		if msg != nil {
			persisted = append(persisted, msg)
		}
		if outcome.Reason == ReasonCancelled {
			report.Cancelled = true
			break
		}
	}
	report.Messages = persisted

	s.advanceWatermark(ctx, logger, report, persisted)

	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// processMessage runs one handle through FETCHING..PERSISTING. A nil message
// means the handle was skipped or failed; the outcome says which and why.
func (s *IngestionService) processMessage(
	ctx context.Context,
	logger *zap.Logger,
	session Session,
	source Source,
	handle string,
	wm *Watermark,
) (*Message, MessageOutcome) {
	outcome := MessageOutcome{Handle: handle}
	logger = logger.With(zap.String("handle", handle))

	msgCtx, cancel := context.WithTimeout(ctx, s.opts.MessageTimeout)
	defer cancel()

	// enter checks the cancellation flag before each stage
	enter := func(stage RunState) bool {
		outcome.Stage = stage
		if ctx.Err() != nil {
			outcome.Status = OutcomeSkipped
			outcome.Reason = ReasonCancelled
			return false
		}
		logger.Debug("Message stage", zap.String("state", string(stage)))
		return true
	}
	fail := func(err error) (*Message, MessageOutcome) {
		outcome.Status = OutcomeFailed
		outcome.Reason = err.Error()
		logger.Warn("Skipping message",
			zap.String("stage", string(outcome.Stage)),
			zap.String("message_id", outcome.MessageID),
			zap.Error(err))
		return nil, outcome
	}

	if !enter(StateFetching) {
		return nil, outcome
	}
	raw, err := session.Fetch(msgCtx, handle)
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			err = &FetchError{Handle: handle, Err: err}
		}
		return fail(err)
	}
	if raw.Source == "" {
		raw.Source = source
	}

	if !enter(StateNormalizing) {
		return nil, outcome
	}
	msg, err := s.normalizer.Normalize(raw)
	if err != nil {
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			err = &ParseError{Handle: handle, Err: err}
		}
		return fail(err)
	}
	outcome.MessageID = msg.ID
	if !msg.TimestampReliable {
		logger.Info("Message timestamp is unreliable; it will not move the watermark",
			zap.String("message_id", msg.ID))
	}

	if !enter(StateFiltering) {
		return nil, outcome
	}
	seen, err := s.store.IsSeen(msgCtx, msg.Source, msg.ID)
	if err != nil {
		return fail(&PersistenceError{Key: msg.Key().String(), Err: err})
	}
	if ok, reason := shouldProcess(msg, wm, seen); !ok {
		outcome.Status = OutcomeSkipped
		outcome.Reason = reason
		logger.Debug("Message filtered",
			zap.String("message_id", msg.ID),
			zap.String("reason", reason))
		return nil, outcome
	}

	if !enter(StateClassifying) {
		return nil, outcome
	}
	phishing, err := s.classify(msgCtx, logger, msg)
	if err != nil {
		return fail(fmt.Errorf("failed to classify message: %w", err))
	}
	msg.IsPhishing = &phishing

	if !enter(StatePersisting) {
		return nil, outcome
	}
	msg.ReceivedAt = s.now().UTC()
	created, err := s.store.UpsertMessage(msgCtx, msg)
	if err != nil {
		var persistErr *PersistenceError
		if !errors.As(err, &persistErr) {
			err = &PersistenceError{Key: msg.Key().String(), Err: err}
		}
		return fail(err)
	}
	if !created {
		logger.Info("Message was already stored by a concurrent run", zap.String("message_id", msg.ID))
	}

	if phishing && s.notifier != nil {
		if err := s.notifier.NotifyPhishing(msgCtx, msg); err != nil {
			logger.Error("Failed to publish phishing notification",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}

	outcome.Status = OutcomeProcessed
	return msg, outcome
}

func (s *IngestionService) classify(ctx context.Context, logger *zap.Logger, msg *Message) (bool, error) {
	if s.trusted != nil && s.trusted.IsWhitelisted(msg.Sender) {
		logger.Info("Skipping classification for trusted sender",
			zap.String("sender", msg.Sender),
			zap.String("action", "whitelist_bypass"))
		return false, nil
	}
	if msg.EmptyBody {
		logger.Debug("Classifying message with empty body", zap.String("message_id", msg.ID))
	}
	return s.classifier.Classify(ctx, msg.Subject, msg.Body)
}

// advanceWatermark moves the persisted watermark to the newest reliable
// timestamp among persisted messages. It runs even after cancellation so
// work already stored is not reprocessed.
func (s *IngestionService) advanceWatermark(ctx context.Context, logger *zap.Logger, report *BatchReport, persisted []*Message) {
	next, moved := NextWatermark(report.PreviousWatermark, report.Source, persisted)
	if !moved {
		return
	}
	logger.Debug("Advancing watermark",
		zap.String("state", string(StateAdvancingWatermark)),
		zap.String("to", FormatTimestamp(next.LastProcessedAt)))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CloseTimeout)
	defer cancel()

	stored, err := s.store.AdvanceWatermark(wctx, report.Source, next.LastProcessedAt)
	if err != nil {
		report.WatermarkError = &PersistenceError{Key: WatermarkKey(report.Source), Err: err}
		logger.Error("Failed to advance watermark", zap.Error(err))
		return
	}
	report.Watermark = stored
}

func (s *IngestionService) closeSession(logger *zap.Logger, session Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		logger.Warn("Failed to close mail session", zap.Error(err))
	}
}

// asConnectionError wraps open and listing failures so callers can match
// them with errors.As while an underlying AuthError stays reachable.
func asConnectionError(source Source, err error) error {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	return &ConnectionError{Source: source, Err: err}
}
