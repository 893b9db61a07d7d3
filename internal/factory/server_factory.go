package factory

import (
	"github.com/mikey/phish-filter/internal/adapters/api"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/ports"
	"go.uber.org/zap"
)

// ServerFactory creates the HTTP API server
type ServerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewServerFactory creates a new server factory
func NewServerFactory(cfg *config.Config, logger *zap.Logger) *ServerFactory {
	return &ServerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateServer creates the API server
func (f *ServerFactory) CreateServer(ingestor ports.Ingestor, reader ports.MessageReader) *api.Server {
	return api.NewServer(ingestor, reader, f.cfg.GetServer(), f.cfg.GetIngest(), f.logger.Named("api"))
}
