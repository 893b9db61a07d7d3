package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/mikey/phish-filter/internal/ports"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SecretStore looks up stored mailbox secrets
type SecretStore interface {
	Get(key string) (string, error)
}

// Poller runs an ingestion pass for every configured account on a cron schedule
type Poller struct {
	ingestor   ports.Ingestor
	secrets    SecretStore
	accounts   []config.AccountConfig
	schedule   string
	runTimeout time.Duration
	logger     *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
	running bool
}

// New creates a new poller. The schedule is validated immediately; the
// scheduler does not run until Start.
func New(
	ingestor ports.Ingestor,
	secrets SecretStore,
	cfg config.PollerConfig,
	logger *zap.Logger,
) (*Poller, error) {
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	cl := cronLogger{logger: logger.Sugar()}

	p := &Poller{
		ingestor:   ingestor,
		secrets:    secrets,
		accounts:   cfg.Accounts,
		schedule:   cfg.Schedule,
		runTimeout: runTimeout,
		logger:     logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(
				cron.SkipIfStillRunning(cl),
				cron.Recover(cl),
			),
		),
	}

	id, err := p.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.runTimeout)
		defer cancel()
		p.PollOnce(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register poll schedule %q: %w", cfg.Schedule, err)
	}
	p.entryID = id
	p.warnSharedWatermarks()

	return p, nil
}

// warnSharedWatermarks flags accounts that share a source. The watermark is
// kept per source, so an account whose mail is older than another account's
// newest message has that mail skipped.
func (p *Poller) warnSharedWatermarks() {
	counts := make(map[string]int)
	for _, acct := range p.accounts {
		counts[strings.ToLower(acct.Source)]++
	}
	for source, n := range counts {
		if n > 1 {
			p.logger.Warn("Accounts share one source watermark; older mail of later accounts may be skipped",
				zap.String("source", source),
				zap.Int("accounts", n))
		}
	}
}

// Start starts the scheduler
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.cron.Start()
	p.running = true

	p.logger.Info("Started mailbox poller",
		zap.String("schedule", p.schedule),
		zap.Int("accounts", len(p.accounts)),
		zap.Time("next_run", p.cron.Entry(p.entryID).Next))
	return nil
}

// Stop stops the scheduler and waits for a running poll to finish
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.logger.Info("Stopping mailbox poller")
	<-p.cron.Stop().Done()
	return nil
}

// PollOnce runs one ingestion pass per account, one after another.
// A failing account is logged and does not stop the others.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, acct := range p.accounts {
		if ctx.Err() != nil {
			p.logger.Warn("Poll cancelled", zap.Error(ctx.Err()))
			return
		}

		logger := p.logger.With(
			zap.String("source", acct.Source),
			zap.String("account", acct.Username))

		req, err := p.runRequest(acct)
		if err != nil {
			logger.Error("Skipping account", zap.Error(err))
			continue
		}

		report, err := p.ingestor.Run(ctx, req)
		switch {
		case core.IsAuthError(err):
			logger.Error("Mailbox rejected stored credentials", zap.Error(err))
		case err != nil:
			logger.Error("Scheduled ingestion failed", zap.Error(err))
		default:
			logger.Info("Scheduled ingestion completed",
				zap.String("run_id", report.RunID),
				zap.Int("processed", report.Processed),
				zap.Int("skipped", report.Skipped),
				zap.Int("failed", report.Failed))
		}
	}
}

// runRequest resolves an account into a run request, reading the secret
// from the keyring when it is not set inline.
func (p *Poller) runRequest(acct config.AccountConfig) (core.RunRequest, error) {
	source, err := core.ParseSource(acct.Source)
	if err != nil {
		return core.RunRequest{}, err
	}

	creds := core.Credentials{
		Username: acct.Username,
		Password: acct.Password,
		Token:    acct.Token,
		Host:     acct.Host,
		Port:     acct.Port,
	}

	secret := creds.Password
	if source == core.SourceGmail {
		secret = creds.Token
	}
	if secret == "" {
		if p.secrets == nil {
			return core.RunRequest{}, fmt.Errorf("no secret configured for %s account %s", source, acct.Username)
		}
		secret, err = p.secrets.Get(KeyringKey(acct))
		if err != nil {
			return core.RunRequest{}, fmt.Errorf("failed to load secret: %w", err)
		}
		if source == core.SourceGmail {
			creds.Token = secret
		} else {
			creds.Password = secret
		}
	}

	return core.RunRequest{
		Source:      source,
		Credentials: creds,
		Limit:       acct.Limit,
	}, nil
}

// KeyringKey is the key an account's secret is stored under,
// "<source>:<username>" unless keyring_key overrides it.
func KeyringKey(acct config.AccountConfig) string {
	if acct.KeyringKey != "" {
		return acct.KeyringKey
	}
	return strings.ToLower(acct.Source) + ":" + acct.Username
}
