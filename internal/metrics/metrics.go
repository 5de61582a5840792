// Package metrics provides Prometheus metrics for kanaime.
//
// Features:
//   - Counters for queries, cache hits, commits, cancels, learn writes
//   - Histograms for dictionary query duration
//   - Stale asynchronous results counted by kind
//   - Own registry, exposed through Handler for scraping
//
// All Record methods are safe on a nil *Collector, so components can run
// without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "kanaime"

// Stale result kinds.
const (
	StaleCandidates   = "candidates"
	StaleSegmentation = "segmentation"
)

// Candidate load outcomes.
const (
	LoadApplied = "applied"
	LoadEmpty   = "empty"
	LoadFailed  = "failed"
)

// Collector holds all Prometheus metrics for the daemon.
type Collector struct {
	registry *prometheus.Registry

	// Dictionary metrics
	Queries         *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	FallbackServed  prometheus.Counter
	BackendFailures *prometheus.CounterVec
	LearnWrites     prometheus.Counter
	ImportedEntries prometheus.Counter

	// Conversion metrics
	Conversions    prometheus.Counter
	Commits        prometheus.Counter
	Cancels        prometheus.Counter
	CandidateLoads *prometheus.CounterVec
	StaleResults   *prometheus.CounterVec
	ActiveSession  prometheus.Gauge
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_queries_total",
				Help:      "Total number of candidate queries by backend",
			},
			[]string{"backend"},
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dictionary_query_duration_seconds",
				Help:      "Candidate query duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_cache_hits_total",
				Help:      "Total number of query cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_cache_misses_total",
				Help:      "Total number of query cache misses",
			},
		),
		FallbackServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_fallback_total",
				Help:      "Total number of queries answered from the static mapping",
			},
		),
		BackendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_backend_failures_total",
				Help:      "Total number of failed backend operations",
			},
			[]string{"operation"},
		),
		LearnWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_learn_writes_total",
				Help:      "Total number of recorded selections",
			},
		),
		ImportedEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dictionary_imported_entries_total",
				Help:      "Total number of entries imported from dictionary sources",
			},
		),
		Conversions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of conversions started",
			},
		),
		Commits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Total number of committed conversions",
			},
		),
		Cancels: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancels_total",
				Help:      "Total number of cancelled conversions",
			},
		),
		CandidateLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidate_loads_total",
				Help:      "Total number of segment candidate loads by outcome",
			},
			[]string{"outcome"},
		),
		StaleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_results_total",
				Help:      "Total number of asynchronous results discarded as stale",
			},
			[]string{"kind"},
		),
		ActiveSession: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_active",
				Help:      "1 while a conversion session is being reviewed",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		c.Queries,
		c.QueryDuration,
		c.CacheHits,
		c.CacheMisses,
		c.FallbackServed,
		c.BackendFailures,
		c.LearnWrites,
		c.ImportedEntries,
		c.Conversions,
		c.Commits,
		c.Cancels,
		c.CandidateLoads,
		c.StaleResults,
		c.ActiveSession,
	)

	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordQuery records a query answered by backend.
func (c *Collector) RecordQuery(backend string, duration time.Duration) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(backend).Inc()
	c.QueryDuration.Observe(duration.Seconds())
}

// RecordCache records a cache lookup.
func (c *Collector) RecordCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
}

// RecordFallback records a query served from the static mapping.
func (c *Collector) RecordFallback() {
	if c == nil {
		return
	}
	c.FallbackServed.Inc()
}

// RecordBackendFailure records a failed backend operation.
func (c *Collector) RecordBackendFailure(operation string) {
	if c == nil {
		return
	}
	c.BackendFailures.WithLabelValues(operation).Inc()
}

// RecordLearn records a selection written to the learn store.
func (c *Collector) RecordLearn() {
	if c == nil {
		return
	}
	c.LearnWrites.Inc()
}

// RecordImport records imported entries.
func (c *Collector) RecordImport(n int) {
	if c == nil {
		return
	}
	c.ImportedEntries.Add(float64(n))
}

// ConversionStarted records the start of a review session.
func (c *Collector) ConversionStarted() {
	if c == nil {
		return
	}
	c.Conversions.Inc()
	c.ActiveSession.Set(1)
}

// RecordCommit records a committed session.
func (c *Collector) RecordCommit() {
	if c == nil {
		return
	}
	c.Commits.Inc()
	c.ActiveSession.Set(0)
}

// RecordCancel records a cancelled session.
func (c *Collector) RecordCancel() {
	if c == nil {
		return
	}
	c.Cancels.Inc()
	c.ActiveSession.Set(0)
}

// RecordCandidateLoad records the outcome of one candidate load.
func (c *Collector) RecordCandidateLoad(outcome string) {
	if c == nil {
		return
	}
	c.CandidateLoads.WithLabelValues(outcome).Inc()
}

// RecordStale records a discarded asynchronous result.
func (c *Collector) RecordStale(kind string) {
	if c == nil {
		return
	}
	c.StaleResults.WithLabelValues(kind).Inc()
}

// SessionEnded clears the active session gauge without counting a commit or
// cancel.
func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.ActiveSession.Set(0)
}
