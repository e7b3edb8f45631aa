package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/aggregation"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/alerting"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/config"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/contract"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/horizon"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/metrics"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/scheduler"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/scoring"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/snapshot"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/storage"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// runtime holds the components of one command invocation. The limiter,
// store and cache are shared by every component that needs them.
type runtime struct {
	store     storage.Repository
	pg        *storage.Store
	cache     cache.Cache
	limiter   *ratelimit.Limiter
	horizon   *horizon.Client
	engine    *aggregation.Engine
	snapshots *snapshot.Service
	notifier  *alerting.Multi
	metrics   *metrics.Registry
}

func (rt *runtime) Close() {
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, *storage.Store, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return storage.NewMemoryStore(), nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(pool)
	return store, store, nil
}

func (a *App) openCache(ctx context.Context) (cache.Cache, error) {
	if a.Config.Cache.RedisURL == "" {
		return cache.NewMemory(), nil
	}
	r, err := cache.NewRedis(ctx, a.Config.Cache.RedisURL, a.Config.Cache.KeyPrefix)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *App) newNotifier() *alerting.Multi {
	var notifiers []alerting.Notifier
	if a.Config.Alerting.Enabled {
		if tg := a.Config.Alerting.Telegram; tg.Enabled {
			notifiers = append(notifiers, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger))
		}
		if sl := a.Config.Alerting.Slack; sl.Enabled {
			notifiers = append(notifiers, alerting.NewSlackNotifier(sl.Token, sl.Channel, sl.APIURL, a.Logger))
		}
	}
	return alerting.NewMulti(a.Logger, notifiers...)
}

func (a *App) newContract(limiter *ratelimit.Limiter) (*contract.Client, error) {
	if !a.Config.ContractEnabled() {
		return nil, nil
	}
	cfg := a.Config.Contract
	return contract.NewClient(contract.Config{
		RPCURL:            cfg.RPCURL,
		ContractID:        cfg.ContractID,
		NetworkPassphrase: cfg.NetworkPassphrase,
		SecretKey:         cfg.SecretKey,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		BaseFee:           cfg.BaseFee,
	}, ratelimit.NewHTTPClient(limiter, cfg.RequestTimeout), a.Logger)
}

func (a *App) open(ctx context.Context) (*runtime, error) {
	cfg := a.Config
	rt := &runtime{metrics: metrics.NewRegistry(), notifier: a.newNotifier()}

	var err error
	rt.store, rt.pg, err = a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.cache, err = a.openCache(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		QueueSize:         cfg.RateLimit.QueueSize,
		MaxRetryAfter:     cfg.RateLimit.MaxRetryAfter,
	})
	rt.metrics.RegisterLimiter("rpc", rt.limiter)
	rt.metrics.RegisterCache(rt.cache)

	userAgent := cfg.Horizon.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	rt.horizon = horizon.NewClient(horizon.Options{
		BaseURL:   cfg.Horizon.URL,
		Timeout:   cfg.Horizon.RequestTimeout,
		UserAgent: userAgent,
		PageLimit: cfg.Horizon.PageLimit,
	}, rt.limiter, a.Logger)

	prices, err := aggregation.ParsePriceTable(cfg.Aggregation.USDPrices)
	if err != nil {
		rt.Close()
		return nil, err
	}
	startHour, err := cfg.StartHour()
	if err != nil {
		rt.Close()
		return nil, err
	}
	var sampler aggregation.DepthSampler
	if cfg.Aggregation.LiquiditySampling {
		sampler = rt.horizon
	}
	rt.engine = aggregation.NewEngine(aggregation.Config{
		MaxHoursPerRun:   cfg.Aggregation.MaxHoursPerRun,
		MaxRetries:       cfg.Aggregation.MaxRetries,
		RetryBackoff:     cfg.Aggregation.RetryBackoff,
		MaxBackoff:       cfg.Aggregation.MaxBackoff,
		StartHour:        startHour,
		LockKey:          cfg.Aggregation.LockKey,
		SampleLiquidity:  cfg.Aggregation.LiquiditySampling,
		DepthConcurrency: cfg.Aggregation.DepthConcurrency,
		DepthLevels:      cfg.Aggregation.DepthLevels,
		Prices:           prices,
	}, horizon.NewSource(rt.horizon), rt.store, rt.store, sampler, rt.cache, a.Logger)

	scorer, err := scoring.New(cfg.Weights(), cfg.ScoringParams())
	if err != nil {
		rt.Close()
		return nil, err
	}
	attestor, err := a.newContract(rt.limiter)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.snapshots = a.newSnapshotService(rt, scorer, attestor)
	return rt, nil
}

func (a *App) newSnapshotService(rt *runtime, scorer *scoring.Scorer, attestor *contract.Client) *snapshot.Service {
	var att snapshot.Attestor
	if attestor != nil {
		att = attestor
	} else {
		a.Logger.Warn().Msg("contract.contract_id not configured; snapshots will not be attested")
	}
	return snapshot.NewService(snapshot.Options{
		Window:        a.Config.Snapshot.Window,
		SchemaVersion: a.Config.Snapshot.SchemaVersion,
		LockKey:       a.Config.Snapshot.LockKey,
		CacheTTL:      a.Config.Cache.TTL,
		OnResult: func(res snapshot.Result) {
			rt.metrics.ObserveSnapshot(res.Epoch, string(res.SubmissionStatus), res.Submission != nil, res.Verified)
		},
	}, rt.store, rt.store, rt.cache, scorer, att, a.Logger)
}

// Run executes the long-running pipeline: hourly aggregation and periodic
// snapshots until SIGINT/SIGTERM. In-flight calls get shutdown.grace_period
// to finish before they are cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	drain, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()
	stopDrain := context.AfterFunc(ctx, func() {
		a.Logger.Info().Dur("grace_period", a.Config.Shutdown.GracePeriod).Msg("shutdown requested; draining in-flight work")
		time.AfterFunc(a.Config.Shutdown.GracePeriod, cancelDrain)
	})
	defer stopDrain()

	g, gctx := errgroup.WithContext(ctx)

	aggSched := scheduler.New(scheduler.Options{
		Name:           "aggregation",
		Interval:       time.Hour,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	g.Go(func() error {
		return aggSched.Run(gctx, func(_ context.Context, _ time.Time) error {
			_, err := a.aggregate(drain, rt)
			if errors.Is(err, aggregation.ErrJobRunning) {
				return nil
			}
			return err
		})
	})

	snapSched := scheduler.New(scheduler.Options{
		Name:         "snapshot",
		Interval:     a.Config.Snapshot.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	g.Go(func() error {
		return snapSched.Run(gctx, func(_ context.Context, _ time.Time) error {
			// Scheduled epochs wait for the first aggregated hour; an explicit
			// snapshot command still attests an empty window.
			_, ok, err := rt.store.LatestHourBucket(drain)
			if err != nil {
				return err
			}
			if !ok {
				a.Logger.Info().Msg("no aggregated hours yet; skipping scheduled snapshot")
				return nil
			}
			_, err = a.snapshot(drain, rt, SnapshotOptions{Submit: a.Config.Snapshot.Submit})
			return err
		})
	})

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return rt.metrics.Serve(gctx, addr, a.Logger)
		})
	}

	a.Logger.Info().Str("version", version.Version).Str("commit", version.Commit).Msg("starting corridor pipeline")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("corridor pipeline stopped")
	return nil
}

func (a *App) notify(ctx context.Context, rt *runtime, note alerting.Notification) {
	if rt.notifier.Len() == 0 {
		return
	}
	note.Channels = a.Config.Alerting.Channels
	if err := rt.notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("alert delivery failed")
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}

// AggregateOptions configure the aggregate command.
type AggregateOptions struct {
	// Hour recomputes a single hour instead of advancing the checkpoint.
	Hour *time.Time
}

// BackfillOptions configure the backfill command.
type BackfillOptions struct {
	From time.Time
	To   time.Time
}

// SnapshotOptions configure the snapshot command.
type SnapshotOptions struct {
	// Epoch zero means the next epoch after the newest stored one.
	Epoch  uint64
	Submit bool
}

// ExportOptions hold parameters for exporting corridor metrics.
type ExportOptions struct {
	From     *time.Time
	To       *time.Time
	PNGPath  string
	CSVPath  string
	Corridor string
	MaxRows  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
