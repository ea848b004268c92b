// Package metrics exposes prometheus counters for model calls, pipeline
// stages, caches, background jobs and http requests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/mnote-agent/internal/llm"
)

const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeCanceled = "canceled"
)

// Collector owns its registry so several instances can live in one process.
type Collector struct {
	registry *prometheus.Registry

	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	stageOutcomes    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Model backend calls by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Model backend call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "op"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage results: ok, degraded or failed.",
		}, []string{"stage", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	c.registry.MustRegister(
		c.upstreamCalls,
		c.upstreamDuration,
		c.stageOutcomes,
		c.cacheLookups,
		c.jobRuns,
		c.jobDuration,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StageOutcome satisfies the recorders of the node and rag packages.
func (c *Collector) StageOutcome(stage string, outcome string) {
	c.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// CacheObserver returns a callback for cache.WithObserver.
func (c *Collector) CacheObserver(name string) func(hit bool) {
	hits := c.cacheLookups.WithLabelValues(name, "hit")
	misses := c.cacheLookups.WithLabelValues(name, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
			return
		}
		misses.Inc()
	}
}

// ObserveJob has the shape of schedule.Observer.
func (c *Collector) ObserveJob(job string, elapsed time.Duration, err error) {
	c.jobRuns.WithLabelValues(job, outcomeOf(err)).Inc()
	c.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) observeUpstream(provider, op string, start time.Time, err error) {
	c.upstreamCalls.WithLabelValues(provider, op, outcomeOf(err)).Inc()
	c.upstreamDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	default:
		return outcomeError
	}
}

type instrumentedClient struct {
	next      llm.Client
	collector *Collector
}

// InstrumentClient counts and times every call made through next. Streams
// are measured until the backend accepts them, not until they drain.
func (c *Collector) InstrumentClient(next llm.Client) llm.Client {
	if next == nil {
		return nil
	}
	return &instrumentedClient{next: next, collector: c}
}

func (i *instrumentedClient) Name() string {
	return i.next.Name()
}

func (i *instrumentedClient) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	start := time.Now()
	out, err := i.next.Chat(ctx, req)
	i.collector.observeUpstream(i.next.Name(), "chat", start, err)
	return out, err
}

func (i *instrumentedClient) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	start := time.Now()
	s, err := i.next.ChatStream(ctx, req)
	i.collector.observeUpstream(i.next.Name(), "chat_stream", start, err)
	return s, err
}

func (i *instrumentedClient) Embed(ctx context.Context, req llm.EmbedRequest) ([]float32, error) {
	start := time.Now()
	out, err := i.next.Embed(ctx, req)
	i.collector.observeUpstream(i.next.Name(), "embed", start, err)
	return out, err
}
