// Command cloud-sync runs the sync daemon: for every profile in its config
// file it drains the local cluster's change feed and replicates rows to
// the profile's remote, applying lifecycle/retention rules as it goes
// (spec §4.3). Generalizes examples/basic/main.go's fx.New/app.Start/
// app.Stop shape from a one-shot demo into a long-running daemon with
// signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/metricsx"
	"github.com/gostratum/tracingx"

	adapters3 "github.com/gostratum/cloudsync/adapters/s3"
	adapterswift "github.com/gostratum/cloudsync/adapters/swift"
	"github.com/gostratum/cloudsync/internal/changefeed"
	s3provider "github.com/gostratum/cloudsync/internal/s3provider"
	swiftprovider "github.com/gostratum/cloudsync/internal/swiftprovider"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/cloudsync/config"
	"github.com/gostratum/cloudsync/pkg/metrics"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/cloudsync/pkg/retrypolicy"
	"github.com/gostratum/cloudsync/pkg/statusstore"
	"github.com/gostratum/cloudsync/pkg/syncengine"
)

func main() {
	configPath := flag.String("config", "/etc/cloudsync/cloud-sync.json", "path to the sync daemon's JSON config file")
	flag.Parse()

	logger := newStdLogger("cloud-sync")

	app := fx.New(
		fx.Provide(func() logx.Logger { return logger }),
		adapterswift.Module(),
		adapters3.Module(),
		fx.Provide(func() (*config.Store, error) {
			return config.Load(*configPath, logger)
		}),
		fx.Provide(newMetricsRecorder),
		fx.Provide(newInstrumenter),
		fx.Invoke(runSyncDaemon),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("cloud-sync: failed to start: %v", err)
	}

	<-ctx.Done()
	logger.Info("cloud-sync: shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Printf("cloud-sync: error during shutdown: %v", err)
	}
}

type observabilityParams struct {
	fx.In

	Metrics metricsx.Metrics `optional:"true"`
	Tracer  tracingx.Tracer  `optional:"true"`
}

func newMetricsRecorder(p observabilityParams) *metrics.Recorder {
	return metrics.New(p.Metrics)
}

func newInstrumenter(p observabilityParams) *cloudsync.Instrumenter {
	return cloudsync.NewInstrumenter(p.Tracer)
}

type syncDaemonParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Logger       logx.Logger
	ConfigStore  *config.Store
	SwiftFactory *adapterswift.Factory
	S3Factory    *adapters3.Factory
	Metrics      *metrics.Recorder
	Instrumenter *cloudsync.Instrumenter
}

// runSyncDaemon wires one Engine per profile and, on fx's OnStart hook,
// launches a poll-interval goroutine per profile; OnStop cancels them and
// waits up to Global.GracefulTimeout before returning, the same
// "stop accepting new rows, drain, then flush status" sequence spec §5
// describes.
func runSyncDaemon(p syncDaemonParams) error {
	cfg := p.ConfigStore.Get()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("cloud-sync: invalid config: %w", err)
	}

	localSettings := localSwiftSettingsFromEnv()
	ctx := context.Background()
	localClient, err := p.SwiftFactory.ClientFor(ctx, localSettings)
	if err != nil {
		return fmt.Errorf("cloud-sync: connect local swift cluster: %w", err)
	}
	local := swiftprovider.New(localClient, p.Logger)
	feed := changefeed.NewPollSource(local)

	statusStore, err := statusstore.Open(cfg.Global.StatusDir, p.Logger)
	if err != nil {
		return fmt.Errorf("cloud-sync: open status store: %w", err)
	}

	retry := retrypolicy.New(retrypolicy.DefaultConfig(), func(attempt int, err error, wait time.Duration) {
		p.Logger.Warn("cloud-sync: retrying", "attempt", attempt, "error", err, "wait", wait)
	})

	engines := make([]*syncengine.Engine, 0, len(cfg.Profiles))
	for _, profile := range cfg.ToProfiles() {
		remote, err := remoteProviderFor(ctx, profile, p.SwiftFactory, p.S3Factory, p.Logger)
		if err != nil {
			return fmt.Errorf("cloud-sync: build remote for %s/%s: %w", profile.Account, profile.Container, err)
		}
		engine, err := syncengine.New(syncengine.Config{
			Profile:  profile,
			Local:    local,
			Remote:   remote,
			Feed:     feed,
			Status:   statusStore,
			Metrics:  p.Metrics,
			Retry:    retry,
			Logger:   p.Logger,
			RowLimit: cfg.Global.ItemsChunk,
		})
		if err != nil {
			return fmt.Errorf("cloud-sync: build engine for %s/%s: %w", profile.Account, profile.Container, err)
		}
		engines = append(engines, engine)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, engine := range engines {
				wg.Add(1)
				go pollEngine(runCtx, &wg, engine, cfg.Global.PollInterval, p.Instrumenter, p.Logger)
			}
			p.Logger.Info("cloud-sync: started", "profiles", len(engines))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(cfg.Global.GracefulTimeout):
				p.Logger.Warn("cloud-sync: graceful_timeout elapsed before all profiles drained")
			}
			return nil
		},
	})

	return nil
}

func pollEngine(ctx context.Context, wg *sync.WaitGroup, engine *syncengine.Engine, interval time.Duration, instr *cloudsync.Instrumenter, logger logx.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass(ctx, engine, instr, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPass(ctx, engine, instr, logger)
		}
	}
}

func runPass(ctx context.Context, engine *syncengine.Engine, instr *cloudsync.Instrumenter, logger logx.Logger) {
	err := instr.TracePass(ctx, "cloudsync.sync_pass", "", "", func(ctx context.Context) error {
		_, err := engine.RunPass(ctx)
		return err
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("cloud-sync: pass failed", "error", err)
	}
}

// remoteProviderFor builds the provider.Provider for a profile's remote
// side, dispatching on Protocol (spec §4.1 two-protocol abstraction).
func remoteProviderFor(ctx context.Context, profile cloudsync.Profile, swiftFactory *adapterswift.Factory, s3Factory *adapters3.Factory, logger logx.Logger) (provider.Provider, error) {
	switch profile.Protocol {
	case cloudsync.ProtocolSwift:
		client, err := swiftFactory.ClientFor(ctx, adapterswift.SettingsFromProfile(profile))
		if err != nil {
			return nil, err
		}
		return swiftprovider.New(client, logger), nil
	case cloudsync.ProtocolS3:
		cm, err := s3Factory.ClientFor(ctx, adapters3.SettingsFromProfile(profile))
		if err != nil {
			return nil, err
		}
		return s3provider.New(cm, logger), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", profile.Protocol)
	}
}

// localSwiftSettingsFromEnv reads the local cluster's TempAuth credentials
// from the environment, the same ST_AUTH/ST_USER/ST_KEY variables the
// reference swift CLI uses - there is no config.Global field for them
// since the local cluster is a single fixed binding, not a per-profile one
// (decision recorded in DESIGN.md).
func localSwiftSettingsFromEnv() adapterswift.Settings {
	return adapterswift.Settings{
		AuthURL:        os.Getenv("ST_AUTH"),
		User:           os.Getenv("ST_USER"),
		Key:            os.Getenv("ST_KEY"),
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}
