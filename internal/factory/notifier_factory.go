package factory

import (
	"github.com/mikey/phish-filter/internal/adapters/notify"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/ports"
	"go.uber.org/zap"
)

// NotifierFactory creates the phishing event notifier
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNotifier returns a RabbitMQ notifier when notify.enabled is set,
// otherwise a notifier that only logs.
func (f *NotifierFactory) CreateNotifier() (ports.Notifier, error) {
	notifyCfg := f.cfg.GetNotify()
	if !notifyCfg.Enabled {
		return notify.NewLogNotifier(f.logger), nil
	}

	n, err := notify.NewRabbitMQNotifier(
		notifyCfg.AMQPURL,
		notifyCfg.Exchange,
		notifyCfg.RoutingKey,
		notifyCfg.PublishTimeout,
		f.logger.Named("notify"),
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
