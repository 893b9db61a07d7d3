package factory

import (
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/credential"
	"github.com/mikey/phish-filter/internal/poller"
	"github.com/mikey/phish-filter/internal/ports"
	"go.uber.org/zap"
)

// PollerFactory creates the background mailbox poller
type PollerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPollerFactory creates a new poller factory
func NewPollerFactory(cfg *config.Config, logger *zap.Logger) *PollerFactory {
	return &PollerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// IsPollerEnabled returns whether background polling is enabled
func (f *PollerFactory) IsPollerEnabled() bool {
	return f.cfg.GetBool("poller.enabled")
}

// CreatePoller creates the poller. The keyring is only opened when some
// account has no inline secret.
func (f *PollerFactory) CreatePoller(ingestor ports.Ingestor) (*poller.Poller, error) {
	pollerCfg, err := f.cfg.GetPoller()
	if err != nil {
		return nil, err
	}

	var secrets poller.SecretStore
	if needsKeyring(pollerCfg.Accounts) {
		store, err := credential.Open(pollerCfg.KeyringService, pollerCfg.KeyringDir)
		if err != nil {
			return nil, err
		}
		secrets = store
	}

	return poller.New(ingestor, secrets, pollerCfg, f.logger.Named("poller"))
}

func needsKeyring(accounts []config.AccountConfig) bool {
	for _, acct := range accounts {
		if acct.Password == "" && acct.Token == "" {
			return true
		}
	}
	return false
}
