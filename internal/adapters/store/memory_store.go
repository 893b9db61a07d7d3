package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the MessageStore interface.
// Nothing survives a restart; it is meant for development and tests.
type MemoryStore struct {
	messages   map[core.MessageKey]*core.Message
	watermarks map[core.Source]time.Time
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		messages:   make(map[core.MessageKey]*core.Message),
		watermarks: make(map[core.Source]time.Time),
		logger:     logger,
	}
}

// IsSeen reports whether (source, id) has been stored
func (s *MemoryStore) IsSeen(ctx context.Context, source core.Source, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.messages[core.MessageKey{Source: source, ID: id}]
	return ok, nil
}

// UpsertMessage stores a copy of msg keyed by (source, id)
func (s *MemoryStore) UpsertMessage(ctx context.Context, msg *core.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.Key()
	_, exists := s.messages[key]
	s.messages[key] = copyMessage(msg)
	return !exists, nil
}

// GetWatermark returns the source watermark or nil
func (s *MemoryStore) GetWatermark(ctx context.Context, source core.Source) (*core.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.watermarks[source]
	if !ok {
		return nil, nil
	}
	return &core.Watermark{Source: source, LastProcessedAt: ts}, nil
}

// AdvanceWatermark moves the watermark forward to ts
func (s *MemoryStore) AdvanceWatermark(ctx context.Context, source core.Source, ts time.Time) (*core.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts = ts.UTC()
	if current, ok := s.watermarks[source]; !ok || ts.After(current) {
		s.watermarks[source] = ts
	} else {
		s.logger.Debug("Watermark not advanced",
			zap.String("key", core.WatermarkKey(source)),
			zap.Time("current", current),
			zap.Time("proposed", ts))
	}
	return &core.Watermark{Source: source, LastProcessedAt: s.watermarks[source]}, nil
}

// ListMessages returns stored messages, newest first
func (s *MemoryStore) ListMessages(ctx context.Context, filter core.MessageFilter) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Message
	for _, msg := range s.messages {
		if filter.Source != "" && msg.Source != filter.Source {
			continue
		}
		if filter.IsPhishing != nil && (msg.IsPhishing == nil || *msg.IsPhishing != *filter.IsPhishing) {
			continue
		}
		out = append(out, copyMessage(msg))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

func copyMessage(msg *core.Message) *core.Message {
	cp := *msg
	cp.URLs = append([]string(nil), msg.URLs...)
	if msg.IsPhishing != nil {
		v := *msg.IsPhishing
		cp.IsPhishing = &v
	}
	return &cp
}
