package swift

import (
	"context"

	"github.com/gostratum/core"
	"github.com/gostratum/core/logx"
	"go.uber.org/fx"
)

// Module returns an fx.Module that provides a Factory for constructing
// per-profile Swift clients on demand, the Swift-side counterpart of
// adapters/s3.Module (spec §6 many profiles per process).
func Module() fx.Option {
	return fx.Module("cloudsync-swift",
		fx.Provide(NewFactory),
	)
}

// Factory lazily builds and caches one *Client per auth endpoint+user pair.
type Factory struct {
	logger  logx.Logger
	clients map[string]*Client
}

// NewFactory is the fx constructor for Factory.
func NewFactory(logger logx.Logger) *Factory {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Factory{logger: logger, clients: make(map[string]*Client)}
}

// ClientFor returns the Client for the given settings, creating and caching
// it on first use.
func (f *Factory) ClientFor(ctx context.Context, settings Settings) (*Client, error) {
	cacheKey := settings.AuthURL + "|" + settings.User
	if c, ok := f.clients[cacheKey]; ok {
		return c, nil
	}
	c, err := NewClient(ctx, settings, f.logger)
	if err != nil {
		return nil, err
	}
	f.clients[cacheKey] = c
	return c, nil
}

// HealthChecks returns a core.Check for every client built so far.
func (f *Factory) HealthChecks() []core.Check {
	checks := make([]core.Check, 0, len(f.clients))
	for _, c := range f.clients {
		checks = append(checks, &swiftHealthCheck{client: c})
	}
	return checks
}

// Close tears down every cached client, called at daemon shutdown.
func (f *Factory) Close() error {
	for _, c := range f.clients {
		_ = c.Close()
	}
	return nil
}
