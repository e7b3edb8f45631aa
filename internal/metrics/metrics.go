package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
)

const namespace = "corridorwatch"

// Registry owns the process metrics. It is not the global registry so
// tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	aggregationRuns   *prometheus.CounterVec
	hoursProcessed    prometheus.Counter
	snapshots         *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	lastSnapshotEpoch prometheus.Gauge
	runDuration       *prometheus.HistogramVec
}

// NewRegistry registers the pipeline metrics and the Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		aggregationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_runs_total",
			Help:      "Aggregation runs by outcome.",
		}, []string{"outcome"}),
		hoursProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_hours_processed_total",
			Help:      "Hour buckets recomputed and stored.",
		}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Persisted snapshots by submission status.",
		}, []string{"submission"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_verifications_total",
			Help:      "On-chain verifications by result.",
		}, []string{"result"}),
		lastSnapshotEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_last_epoch",
			Help:      "Epoch of the newest persisted snapshot.",
		}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"task"}),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RegisterLimiter exports the limiter counters, read on scrape.
func (r *Registry) RegisterLimiter(name string, l *ratelimit.Limiter) {
	labels := prometheus.Labels{"limiter": name}
	stat := func(pick func(ratelimit.Stats) float64) func() float64 {
		return func() float64 { return pick(l.Stats()) }
	}
	factory := promauto.With(r.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "requests_total",
		Help: "Acquire calls seen by the limiter.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return float64(s.TotalRequests) }))
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "throttled_total",
		Help: "Requests that waited in the queue.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return float64(s.ThrottledRequests) }))
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "rejected_total",
		Help: "Requests rejected because the queue was full.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return float64(s.RejectedRequests) }))
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "upstream_429_total",
		Help: "429 responses received from upstream.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return float64(s.Upstream429) }))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "tokens",
		Help: "Tokens currently available.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return s.Tokens }))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "ratelimit", Name: "queue_depth",
		Help: "Callers waiting for a token.", ConstLabels: labels,
	}, stat(func(s ratelimit.Stats) float64 { return float64(s.QueueDepth) }))
}

// RegisterCache exports cache hit and miss counters.
func (r *Registry) RegisterCache(c cache.Cache) {
	factory := promauto.With(r.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Cache hits.",
	}, func() float64 { return float64(c.Stats().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Cache misses.",
	}, func() float64 { return float64(c.Stats().Misses) })
}

// ObserveAggregation records one aggregation run.
func (r *Registry) ObserveAggregation(hours int, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.aggregationRuns.WithLabelValues(outcome).Inc()
	r.hoursProcessed.Add(float64(hours))
	r.runDuration.WithLabelValues("aggregation").Observe(elapsed.Seconds())
}

// ObserveSnapshot records one persisted snapshot.
func (r *Registry) ObserveSnapshot(epoch uint64, submission string, submitted, verified bool) {
	r.snapshots.WithLabelValues(submission).Inc()
	r.lastSnapshotEpoch.Set(float64(epoch))
	if !submitted {
		return
	}
	result := "match"
	if !verified {
		result = "mismatch"
	}
	r.verifications.WithLabelValues(result).Inc()
}

// ObserveRun records the duration of a scheduled task.
func (r *Registry) ObserveRun(task string, elapsed time.Duration) {
	r.runDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Registry) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
