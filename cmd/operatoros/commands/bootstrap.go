package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/health"
	"github.com/biodoia/operatoros/internal/notifications"
	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/internal/stats"
	"github.com/biodoia/operatoros/pkg/cache"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// App raccoglie i componenti cablati dell'orchestratore
type App struct {
	Config   *config.Config
	Store    conversation.Store
	DB       *database.DB // nil con lo store in memoria
	Registry *router.Registry
	Router   *router.Router
	Executor *executor.Executor
	Metrics  *stats.Metrics
	Notifier *notifications.Notifier
	Monitor  *health.Monitor
	Manager  *conversation.Manager

	closers []func() error
}

// bootstrapOptions controlla quali parti vengono avviate
type bootstrapOptions struct {
	probe bool
}

// loadConfig carica e valida la configurazione indicata dal flag --config
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// bootstrap costruisce tutti i collaboratori a partire dalla configurazione
func bootstrap(ctx context.Context, cfg *config.Config, opts bootstrapOptions) (*App, error) {
	app := &App{Config: cfg}

	app.Metrics = stats.NewMetrics(cfg.Monitoring.Prometheus.Namespace)
	app.Notifier = notifications.BuildNotifier(cfg.Notifications, app.Metrics)
	app.Notifier.Start()
	app.closers = append(app.closers, func() error {
		app.Notifier.Stop()
		return nil
	})

	registry, err := router.BuildRegistry(cfg.Backends,
		router.WithProbeTimeout(cfg.Routing.ProbeTimeout),
		router.WithLiveObserver(func(name string, live bool) {
			app.Metrics.ObserveLive(name, live)
			if err := app.Notifier.Notify(context.Background(), notifications.NewBackendEvent(name, live)); err != nil {
				log.Warn().Err(err).Str("backend", name).Msg("Failed to queue backend event")
			}
		}),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to build backend registry: %w", err)
	}
	app.Registry = registry

	if err := app.Metrics.WatchRegistry(registry); err != nil {
		app.Close()
		return nil, err
	}

	if opts.probe && cfg.Routing.ProbeOnStart {
		failures := registry.Probe(ctx)
		for name, err := range failures {
			log.Warn().Err(err).Str("backend", name).Msg("Backend excluded at startup")
		}
	}
	for _, name := range registry.Names() {
		app.Metrics.SetLive(name, registry.IsLive(name))
	}
	log.Info().
		Strs("live", registry.LiveNames()).
		Int("registered", len(registry.Names())).
		Msg("Backend registry ready")

	app.Router = router.New(cfg.Routing, registry)
	app.Executor = executor.New(app.Router, executor.ConfigFrom(cfg.Orchestration),
		executor.WithRecorder(app.Metrics))

	if err := app.openStore(); err != nil {
		app.Close()
		return nil, err
	}

	locker, err := app.buildLocker(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Manager = conversation.NewManager(app.Store, app.Executor,
		conversation.WithLocker(locker),
		conversation.WithNotifier(app.Notifier),
		conversation.WithConfig(conversation.ConfigFrom(cfg.Orchestration)),
	)

	app.Monitor = health.NewMonitor(registry, cfg.Routing.ReprobeInterval)
	return app, nil
}

func (a *App) openStore() error {
	if a.Config.Database.Type == "memory" {
		a.Store = database.NewMemoryStore()
		log.Warn().Msg("Using in-memory store, conversations are lost on exit")
		return nil
	}

	db, err := database.New(&a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.DB = db
	a.Store = db
	a.closers = append(a.closers, db.Close)

	log.Info().
		Str("type", a.Config.Database.Type).
		Msg("Database connected")
	return nil
}

func (a *App) buildLocker(ctx context.Context) (conversation.Locker, error) {
	if a.Config.Orchestration.LockBackend != "redis" {
		return conversation.NewMemoryLocker(), nil
	}

	client, err := cache.NewRedisClient(ctx, cache.Options{
		Addr:     a.Config.Redis.Host,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	locker := cache.NewRedisLocker(client, a.Config.Redis.LockTTL)
	log.Info().
		Str("host", a.Config.Redis.Host).
		Dur("ttl", locker.TTL()).
		Msg("Using Redis conversation lock")
	return locker, nil
}

// Close rilascia le risorse in ordine inverso di apertura
func (a *App) Close() error {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// setupLogger configura il logger globale
func setupLogger(level string, dev bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// initLogging applica i flag globali, con fallback sulla configurazione
func initLogging(cmd *cobra.Command, cfg *config.Config) {
	level, _ := cmd.Flags().GetString("log-level")
	dev, _ := cmd.Flags().GetBool("dev")
	if !cmd.Flags().Changed("log-level") && cfg != nil && cfg.Monitoring.Logging.Level != "" {
		level = cfg.Monitoring.Logging.Level
	}
	if !cmd.Flags().Changed("dev") && cfg != nil && cfg.Monitoring.Logging.Format == "console" {
		dev = true
	}
	setupLogger(level, dev)
}
