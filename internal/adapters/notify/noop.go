package notify

import (
	"context"

	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// LogNotifier only logs detections. It is used when notify.enabled is false.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyPhishing(_ context.Context, msg *core.Message) error {
	n.logger.Info("Phishing email detected",
		zap.String("message_id", msg.ID),
		zap.String("source", string(msg.Source)),
		zap.String("sender", msg.Sender),
		zap.String("subject", msg.Subject),
		zap.Int("urls", len(msg.URLs)))
	return nil
}

func (n *LogNotifier) Close() error { return nil }
