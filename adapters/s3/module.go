package s3

import (
	"context"

	"github.com/gostratum/core"
	"github.com/gostratum/core/logx"
	"go.uber.org/fx"
)

// Module returns an fx.Module that provides a Factory for constructing
// per-profile S3 client managers on demand, replacing the teacher's
// provideS3Storage single-bucket lifecycle proxy (adapters/s3/module.go)
// with a factory the sync engine and migrator call once per profile as
// profiles are discovered from config (spec §6 supports many profiles per
// process).
func Module() fx.Option {
	return fx.Module("cloudsync-s3",
		fx.Provide(NewFactory),
	)
}

// Factory lazily builds and caches one *ClientManager per bucket+endpoint
// pair, and exposes core.Check values for every manager it has built so
// far (spec §4.6 readiness surface).
type Factory struct {
	logger   logx.Logger
	managers map[string]*ClientManager
}

// NewFactory is the fx constructor for Factory.
func NewFactory(logger logx.Logger) *Factory {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Factory{logger: logger, managers: make(map[string]*ClientManager)}
}

// ClientFor returns the ClientManager for the given settings, creating and
// caching it on first use.
func (f *Factory) ClientFor(ctx context.Context, settings Settings) (*ClientManager, error) {
	cacheKey := settings.Endpoint + "|" + settings.Bucket
	if cm, ok := f.managers[cacheKey]; ok {
		return cm, nil
	}
	cm, err := NewClientManager(ctx, ClientConfig{Settings: settings, Logger: f.logger})
	if err != nil {
		return nil, err
	}
	f.managers[cacheKey] = cm
	return cm, nil
}

// HealthChecks returns a core.Check for every client manager built so far.
func (f *Factory) HealthChecks() []core.Check {
	checks := make([]core.Check, 0, len(f.managers))
	for _, cm := range f.managers {
		checks = append(checks, &s3HealthCheck{client: cm})
	}
	return checks
}

// Close tears down every cached client manager, called at daemon shutdown.
func (f *Factory) Close() error {
	for _, cm := range f.managers {
		_ = cm.Close()
	}
	return nil
}
