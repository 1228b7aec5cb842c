package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arbwatch/internal/alerting"
	"arbwatch/internal/collector"
	"arbwatch/internal/config"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/monitor"
	"arbwatch/internal/report"
	"arbwatch/internal/service"
	"arbwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// newSources builds the enabled fetchers in configuration order.
func (a *App) newSources() ([]collector.Source, error) {
	sc := a.Config.Sources
	sources := make([]collector.Source, 0, len(sc.Enabled))
	for _, name := range sc.Enabled {
		var (
			f       fetcher.PriceFetcher
			timeout time.Duration
		)
		switch name {
		case config.SourceJupiter:
			timeout = sc.Jupiter.Timeout
			f = fetcher.NewJupiter(fetcher.JupiterOptions{BaseURL: sc.Jupiter.BaseURL, Timeout: effective(timeout, sc.Timeout), UserAgent: sc.UserAgent}, a.Logger)
		case config.SourceRaydium:
			timeout = sc.Raydium.Timeout
			f = fetcher.NewRaydium(fetcher.RaydiumOptions{BaseURL: sc.Raydium.BaseURL, Timeout: effective(timeout, sc.Timeout), UserAgent: sc.UserAgent}, a.Logger)
		case config.SourceOrca:
			timeout = sc.Orca.Timeout
			f = fetcher.NewOrca(fetcher.OrcaOptions{
				BaseURL:   sc.Orca.BaseURL,
				QuoteMint: sc.Orca.QuoteMint,
				CacheTTL:  sc.Orca.CacheTTL,
				Timeout:   effective(timeout, sc.Timeout),
				UserAgent: sc.UserAgent,
			}, a.Logger)
		case config.SourceChainlink:
			timeout = sc.Chainlink.Timeout
			feeds, err := sc.Chainlink.FeedMap()
			if err != nil {
				return nil, err
			}
			f = fetcher.NewChainlink(fetcher.ChainlinkOptions{
				RPCURL:  sc.Chainlink.RPCURL,
				Feeds:   feeds,
				MaxAge:  sc.Chainlink.MaxAge,
				Timeout: effective(timeout, sc.Timeout),
			}, a.Logger)
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
		sources = append(sources, collector.Source{Name: sourceLabel(name), Fetcher: f, Timeout: timeout})
	}
	return sources, nil
}

func (a *App) newCollector(sources []collector.Source) *collector.Collector {
	return collector.New(sources, collector.Options{
		Timeout:        a.Config.Sources.Timeout,
		MaxConcurrency: a.Config.Sources.MaxConcurrency,
		MaxPrice:       a.Config.Sources.MaxPrice,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var channels alerting.Multi
	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if cfg := a.Config.Alerting.Discord; cfg.Enabled {
		channels = append(channels, alerting.NewDiscordNotifier(cfg.WebhookURL, 10*time.Second, a.Logger))
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		applied, err := store.ApplyMigrations(ctx, a.Config.Database.MigrationsPath)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		a.Logger.Info().Int("files", applied).Msg("database migrations applied")
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newSinks assembles every configured report sink. The log sink is always on.
func (a *App) newSinks(ctx context.Context, store *storage.Store, reg prometheus.Registerer) ([]report.Sink, error) {
	sinks := []report.Sink{report.NewLogSink(a.Logger)}

	if reg != nil {
		sinks = append(sinks, report.NewMetricsSink(reg))
	}

	if a.Config.Alerting.Enabled {
		var opportunities storage.OpportunityStore
		if store != nil {
			opportunities = store
		}
		notifier := a.newNotifier()
		if notifier == nil && opportunities == nil {
			a.Logger.Warn().Msg("alerting enabled but no channel or database configured")
		}
		sinks = append(sinks, report.NewAlertSink(report.AlertOptions{
			ThresholdPct: a.Config.Alerting.ThresholdPct,
			MinSpread:    a.Config.Alerting.MinSpread,
			Cooldown:     a.Config.Alerting.Cooldown,
			Channels:     a.Config.Alerting.Channels,
		}, notifier, opportunities, a.Logger))
	}

	if rc := a.Config.Redis; rc.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			_ = report.CloseAll(sinks)
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
		sinks = append(sinks, report.NewRedisSink(rdb, report.RedisOptions{Channel: rc.Channel, KeyPrefix: rc.KeyPrefix, TTL: rc.TTL}, a.Logger))
	}

	if kc := a.Config.Kafka; len(kc.Brokers) > 0 {
		sinks = append(sinks, report.NewKafkaSink(report.KafkaOptions{
			Brokers:           kc.Brokers,
			Topic:             kc.Topic,
			OnlyOpportunities: kc.OnlyOpportunities,
		}, a.Logger))
	}

	return sinks, nil
}

func (a *App) newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (a *App) startMetricsServer(reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; opportunity log and leader election disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var reg *prometheus.Registry
	if a.Config.Metrics.Addr != "" {
		reg = a.newRegistry()
		stop := a.startMetricsServer(reg)
		defer stop()
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	sinks, err := a.newSinks(ctx, store, registerer)
	if err != nil {
		return err
	}
	defer func() {
		if err := report.CloseAll(sinks); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close report sinks")
		}
	}()

	sources, err := a.newSources()
	if err != nil {
		return err
	}
	coll := a.newCollector(sources)

	loopOpts := monitor.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		ReportTimeout: a.Config.Scheduler.ReportTimeout,
	}
	loops := make([]*monitor.Loop, 0, len(a.Config.Assets))
	for _, asset := range a.Config.Assets {
		loops = append(loops, monitor.New(asset, coll, report.Multi(sinks), loopOpts, a.Logger))
	}

	var locker storage.AdvisoryLocker
	if store != nil {
		locker = store
	}
	svc := service.New(loops, locker, service.Options{
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
		StandbyRetry: a.Config.Scheduler.StandbyRetry,
	}, a.Logger)

	a.Logger.Info().Strs("assets", a.Config.Assets).Strs("sources", coll.Names()).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func effective(specific, fallback time.Duration) time.Duration {
	if specific > 0 {
		return specific
	}
	return fallback
}

// sourceLabel is the name carried in price entries, e.g. ORCA.
func sourceLabel(name string) string {
	switch name {
	case config.SourceOrca:
		return "ORCA"
	case config.SourceRaydium:
		return "RAYDIUM"
	case config.SourceJupiter:
		return "JUPITER"
	case config.SourceChainlink:
		return "CHAINLINK"
	}
	return name
}

// ExportOptions hold parameters for exporting recorded opportunities.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Asset     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Asset string
}

// ProbeOptions configure the probe command.
type ProbeOptions struct {
	Asset string
}

// SimulateOptions configure the simulate command. Prices align with Sources;
// "-" marks a source with no quote.
type SimulateOptions struct {
	Asset   string
	Sources []string
	Prices  []string
	// Publish routes the result through the configured sinks as well.
	Publish bool
}
