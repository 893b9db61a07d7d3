package factory

import (
	"github.com/mikey/phish-filter/internal/adapters/gmail"
	"github.com/mikey/phish-filter/internal/adapters/imap"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/mikey/phish-filter/internal/normalize"
	"github.com/mikey/phish-filter/internal/whitelist"
	"go.uber.org/zap"
)

// PipelineFactory creates the mail sources and message handling stages
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailSources creates one MailSource per supported protocol
func (f *PipelineFactory) CreateMailSources() []core.MailSource {
	imapCfg := f.cfg.GetIMAP()
	gmailCfg := f.cfg.GetGmail()

	return []core.MailSource{
		imap.NewSource(f.logger.Named("imap"), imap.Options{
			Port:         imapCfg.Port,
			DefaultHost:  imapCfg.DefaultHost,
			DialTimeout:  imapCfg.DialTimeout,
			FetchTimeout: imapCfg.FetchTimeout,
			Servers:      imapCfg.Servers,
		}),
		gmail.NewSource(f.logger.Named("gmail"), gmail.Options{
			Timeout:                    gmailCfg.Timeout,
			Endpoint:                   gmailCfg.Endpoint,
			BreakerMaxRequests:         gmailCfg.BreakerMaxRequests,
			BreakerInterval:            gmailCfg.BreakerInterval,
			BreakerTimeout:             gmailCfg.BreakerTimeout,
			BreakerConsecutiveFailures: gmailCfg.BreakerConsecutiveFailures,
		}),
	}
}

// CreateNormalizer creates the message normalizer
func (f *PipelineFactory) CreateNormalizer() *normalize.Normalizer {
	normalizeCfg := f.cfg.GetNormalize()
	return normalize.New(f.logger.Named("normalize"), normalize.Options{
		MaxFutureSkew: normalizeCfg.MaxFutureSkew,
		HTMLFallback:  normalizeCfg.HTMLFallback,
	})
}

// CreateSenderPolicy creates the trusted-sender whitelist
func (f *PipelineFactory) CreateSenderPolicy() *whitelist.Checker {
	return whitelist.NewChecker(f.cfg.GetClassifier().TrustedDomains, f.logger)
}

// CreateIngestionService wires the orchestrator from its stages
func (f *PipelineFactory) CreateIngestionService(
	sources []core.MailSource,
	normalizer core.Normalizer,
	classifier core.Classifier,
	store core.MessageStore,
	notifier core.Notifier,
	trusted core.SenderPolicy,
) *core.IngestionService {
	ingestCfg := f.cfg.GetIngest()
	return core.NewIngestionService(
		sources,
		normalizer,
		classifier,
		store,
		notifier,
		trusted,
		f.logger,
		core.IngestOptions{
			MessageTimeout: ingestCfg.MessageTimeout,
			CloseTimeout:   ingestCfg.CloseTimeout,
		},
	)
}
