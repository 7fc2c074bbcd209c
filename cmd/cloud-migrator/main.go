// Command cloud-migrator runs the migration daemon: for every migration
// binding in its config file it periodically reconciles a remote bucket
// into the local Swift-shaped cluster (spec §4.4). Mirrors cmd/cloud-sync's
// fx wiring and signal-driven shutdown, swapping syncengine.Engine for
// migrator.Migrator and ToProfiles for ToMigrationProfiles.
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
	s3provider "github.com/gostratum/cloudsync/internal/s3provider"
	swiftprovider "github.com/gostratum/cloudsync/internal/swiftprovider"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/cloudsync/config"
	"github.com/gostratum/cloudsync/pkg/metrics"
	"github.com/gostratum/cloudsync/pkg/migrator"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/cloudsync/pkg/retrypolicy"
	"github.com/gostratum/cloudsync/pkg/ring"
	"github.com/gostratum/cloudsync/pkg/statusstore"
)

func main() {
	configPath := flag.String("config", "/etc/cloudsync/cloud-migrator.json", "path to the migrator daemon's JSON config file")
	flag.Parse()

	logger := newStdLogger("cloud-migrator")

	app := fx.New(
		fx.Provide(func() logx.Logger { return logger }),
		adapterswift.Module(),
		adapters3.Module(),
		fx.Provide(func() (*config.Store, error) {
			return config.Load(*configPath, logger)
		}),
		fx.Provide(newMetricsRecorder),
		fx.Provide(newInstrumenter),
		fx.Invoke(runMigratorDaemon),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("cloud-migrator: failed to start: %v", err)
	}

	<-ctx.Done()
	logger.Info("cloud-migrator: shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Printf("cloud-migrator: error during shutdown: %v", err)
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

type migratorDaemonParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Logger       logx.Logger
	ConfigStore  *config.Store
	SwiftFactory *adapterswift.Factory
	S3Factory    *adapters3.Factory
	Metrics      *metrics.Recorder
	Instrumenter *cloudsync.Instrumenter
}

// runMigratorDaemon wires one Migrator per migration binding and, on fx's
// OnStart hook, launches a poll-interval goroutine per binding; OnStop
// cancels them and waits up to Global.GracefulTimeout, same shutdown
// sequence as cmd/cloud-sync.
func runMigratorDaemon(p migratorDaemonParams) error {
	cfg := p.ConfigStore.Get()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("cloud-migrator: invalid config: %w", err)
	}

	localSettings := localSwiftSettingsFromEnv()
	ctx := context.Background()
	localClient, err := p.SwiftFactory.ClientFor(ctx, localSettings)
	if err != nil {
		return fmt.Errorf("cloud-migrator: connect local swift cluster: %w", err)
	}
	local := swiftprovider.New(localClient, p.Logger)

	retry := retrypolicy.New(retrypolicy.DefaultConfig(), func(attempt int, err error, wait time.Duration) {
		p.Logger.Warn("cloud-migrator: retrying", "attempt", attempt, "error", err, "wait", wait)
	})

	statusStores := make(map[string]*statusstore.Store)
	rings := make(map[string]*ring.Ring)

	migrations := make([]*migrator.Migrator, 0, len(cfg.Migrations))
	for _, mp := range cfg.ToMigrationProfiles() {
		remote, err := remoteProviderFor(ctx, mp.Profile, p.SwiftFactory, p.S3Factory, p.Logger)
		if err != nil {
			return fmt.Errorf("cloud-migrator: build remote for %s/%s: %w", mp.Profile.Account, mp.Profile.Container, err)
		}

		statusStore, ok := statusStores[mp.Settings.StatusFile]
		if !ok {
			statusStore, err = statusstore.OpenFile(mp.Settings.StatusFile, p.Logger)
			if err != nil {
				return fmt.Errorf("cloud-migrator: open status file %s: %w", mp.Settings.StatusFile, err)
			}
			statusStores[mp.Settings.StatusFile] = statusStore
		}

		// RingName groups migrations that must partition work against one
		// another (spec §4.4 "Partitioning"); a process runs every shard
		// of every ring it's configured with since this daemon has no
		// horizontal fan-out of its own.
		r, ok := rings[mp.Settings.RingName]
		if !ok {
			r = ring.New(1)
			rings[mp.Settings.RingName] = r
		}

		sizeLimit := mp.Settings.LocalObjectSizeLimit
		m, err := migrator.New(migrator.Config{
			Profile:              mp.Profile,
			Local:                local,
			Remote:               remote,
			Status:               statusStore,
			Metrics:              p.Metrics,
			Retry:                retry,
			Logger:               p.Logger,
			Conditions:           mp.Settings.MetadataConditions.ToCondition(),
			Ring:                 r,
			Shard:                0,
			ItemsChunk:           cfg.Global.ItemsChunk,
			LocalObjectSizeLimit: sizeLimit,
		})
		if err != nil {
			return fmt.Errorf("cloud-migrator: build migrator for %s/%s: %w", mp.Profile.Account, mp.Profile.Container, err)
		}
		migrations = append(migrations, m)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, m := range migrations {
				wg.Add(1)
				go pollMigrator(runCtx, &wg, m, cfg.Global.PollInterval, p.Instrumenter, p.Logger)
			}
			p.Logger.Info("cloud-migrator: started", "migrations", len(migrations))
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
				p.Logger.Warn("cloud-migrator: graceful_timeout elapsed before all migrations drained")
			}
			return nil
		},
	})

	return nil
}

func pollMigrator(ctx context.Context, wg *sync.WaitGroup, m *migrator.Migrator, interval time.Duration, instr *cloudsync.Instrumenter, logger logx.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass(ctx, m, instr, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPass(ctx, m, instr, logger)
		}
	}
}

func runPass(ctx context.Context, m *migrator.Migrator, instr *cloudsync.Instrumenter, logger logx.Logger) {
	err := instr.TracePass(ctx, "cloudsync.migration_pass", "", "", func(ctx context.Context) error {
		_, err := m.RunPass(ctx)
		return err
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("cloud-migrator: pass failed", "error", err)
	}
}

// remoteProviderFor builds the provider.Provider for a migration's remote
// side, dispatching on Protocol, the same switch cmd/cloud-sync uses.
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
