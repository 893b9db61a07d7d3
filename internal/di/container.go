package di

import (
	"context"

	"go.uber.org/dig"

	"github.com/mikey/phish-filter/internal/adapters/api"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/mikey/phish-filter/internal/factory"
	"github.com/mikey/phish-filter/internal/logging"
	"github.com/mikey/phish-filter/internal/ports"
)

// Services are the long running components, in start order
type Services []ports.Service

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	return Build(config.New)
}

// Build creates the container around the given configuration constructor
func Build(newConfig func() (*config.Config, error)) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(newConfig); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	for _, ctor := range []interface{}{
		factory.NewStoreFactory,
		factory.NewClassifierFactory,
		factory.NewPipelineFactory,
		factory.NewNotifierFactory,
		factory.NewPollerFactory,
		factory.NewServerFactory,
	} {
		if err := container.Provide(ctor); err != nil {
			return nil, err
		}
	}

	// Register message store
	if err := container.Provide(func(f *factory.StoreFactory) (core.MessageStore, error) {
		return f.CreateMessageStore()
	}); err != nil {
		return nil, err
	}

	// Register classifier; a model that cannot load fails the whole build
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Classifier, error) {
		return f.CreateClassifier(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register pipeline stages
	if err := container.Provide(func(f *factory.PipelineFactory) []core.MailSource {
		return f.CreateMailSources()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.Normalizer {
		return f.CreateNormalizer()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.SenderPolicy {
		return f.CreateSenderPolicy()
	}); err != nil {
		return nil, err
	}

	// Register notifier
	if err := container.Provide(func(f *factory.NotifierFactory) (ports.Notifier, error) {
		return f.CreateNotifier()
	}); err != nil {
		return nil, err
	}

	// Register ingestion service
	if err := container.Provide(func(
		f *factory.PipelineFactory,
		sources []core.MailSource,
		normalizer core.Normalizer,
		classifier core.Classifier,
		store core.MessageStore,
		notifier ports.Notifier,
		trusted core.SenderPolicy,
	) ports.Ingestor {
		return f.CreateIngestionService(sources, normalizer, classifier, store, notifier, trusted)
	}); err != nil {
		return nil, err
	}

	// Register API server
	if err := container.Provide(func(f *factory.ServerFactory, ingestor ports.Ingestor, store core.MessageStore) *api.Server {
		return f.CreateServer(ingestor, store)
	}); err != nil {
		return nil, err
	}

	// Register services; the poller only runs when enabled
	if err := container.Provide(func(pf *factory.PollerFactory, server *api.Server, ingestor ports.Ingestor) (Services, error) {
		services := Services{server}
		if pf.IsPollerEnabled() {
			p, err := pf.CreatePoller(ingestor)
			if err != nil {
				return nil, err
			}
			services = append(services, p)
		}
		return services, nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
