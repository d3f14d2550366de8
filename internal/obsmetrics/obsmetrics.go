// Package obsmetrics declares the Prometheus metrics tz exposes while a
// command runs with the global `--metrics-addr` flag, grounded on kraklabs-cie's
// pkg/ingestion/metrics.go: a single struct of prometheus.Counter and
// prometheus.Histogram fields, built once behind a sync.Once and
// registered into a caller-supplied registry rather than the global
// default (so tests can use their own registry without collisions).
package obsmetrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and histograms tz records during resolve,
// install, and snippet execution.
type Metrics struct {
	once sync.Once

	// Install
	installsStarted  prometheus.Counter
	installsSucceded prometheus.Counter
	installsFailed   prometheus.Counter
	installDuration  prometheus.Histogram

	// Resolve
	resolveDuration prometheus.Histogram
	resolveConflict prometheus.Counter

	// Content-addressed store
	storeCacheHits   prometheus.Counter
	storeCacheMisses prometheus.Counter
	tarballBytes     prometheus.Counter

	// Snippet execution
	snippetCacheHits   prometheus.Counter
	snippetCacheMisses prometheus.Counter
	snippetExecErrors  prometheus.Counter
	snippetDuration    prometheus.Histogram
}

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.installsStarted = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_installs_started_total", Help: "Installs started"})
		m.installsSucceded = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_installs_succeeded_total", Help: "Installs completed without error"})
		m.installsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_installs_failed_total", Help: "Installs that returned an error"})
		m.installDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "tz_install_duration_seconds", Help: "Wall time of a full install", Buckets: durationBuckets})

		m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "tz_resolve_duration_seconds", Help: "Wall time of dependency resolution", Buckets: durationBuckets})
		m.resolveConflict = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_resolve_conflicts_total", Help: "Resolutions that ended in a version conflict"})

		m.storeCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_store_cache_hits_total", Help: "Package versions already present in the content-addressed store"})
		m.storeCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_store_cache_misses_total", Help: "Package versions downloaded because the store entry was missing or forced"})
		m.tarballBytes = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_tarball_bytes_total", Help: "Total bytes of tarballs downloaded from the registry"})

		m.snippetCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_snippet_cache_hits_total", Help: "askUser/askAgent calls served from agents-cache.toml"})
		m.snippetCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_snippet_cache_misses_total", Help: "askUser/askAgent calls that prompted or ran an agent"})
		m.snippetExecErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "tz_snippet_exec_errors_total", Help: "askUser/askAgent calls that returned an error"})
		m.snippetDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "tz_snippet_duration_seconds", Help: "Wall time of a single askUser/askAgent call", Buckets: durationBuckets})
	})
}

// New builds a Metrics instance and registers it into reg. Passing a
// fresh prometheus.NewRegistry() keeps test suites isolated from each
// other and from prometheus.DefaultRegisterer.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{}
	m.init()
	reg.MustRegister(
		m.installsStarted, m.installsSucceded, m.installsFailed, m.installDuration,
		m.resolveDuration, m.resolveConflict,
		m.storeCacheHits, m.storeCacheMisses, m.tarballBytes,
		m.snippetCacheHits, m.snippetCacheMisses, m.snippetExecErrors, m.snippetDuration,
	)
	return m
}

// Handler returns the promhttp handler tz mounts at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// InstallStarted/InstallFinished bracket InstallFromConfig calls;
// InstallSinglePackage records no install metrics.
func (m *Metrics) InstallStarted() {
	m.installsStarted.Inc()
}

// InstallFinished records the outcome and duration (in seconds) of a
// completed install.
func (m *Metrics) InstallFinished(durationSeconds float64, err error) {
	m.installDuration.Observe(durationSeconds)
	if err != nil {
		m.installsFailed.Inc()
		return
	}
	m.installsSucceded.Inc()
}

// ResolveFinished records a resolver.Resolve call's duration and,
// optionally, that it ended in a version conflict.
func (m *Metrics) ResolveFinished(durationSeconds float64, conflict bool) {
	m.resolveDuration.Observe(durationSeconds)
	if conflict {
		m.resolveConflict.Inc()
	}
}

// StoreHit/StoreMiss record whether fetchOne reused an existing store
// entry or had to download a tarball.
func (m *Metrics) StoreHit() {
	m.storeCacheHits.Inc()
}

func (m *Metrics) StoreMiss(tarballBytes int) {
	m.storeCacheMisses.Inc()
	m.tarballBytes.Add(float64(tarballBytes))
}

// SnippetExecuted records one askUser/askAgent call's cache outcome,
// duration, and success.
func (m *Metrics) SnippetExecuted(durationSeconds float64, cacheHit bool, err error) {
	m.snippetDuration.Observe(durationSeconds)
	if cacheHit {
		m.snippetCacheHits.Inc()
	} else {
		m.snippetCacheMisses.Inc()
	}
	if err != nil {
		m.snippetExecErrors.Inc()
	}
}

// Noop returns a Metrics instance registered into a private registry
// that nothing ever serves — the default for components built without
// an explicit *Metrics, so they record observations unconditionally
// without branching on a nil *Metrics. cmd/tz always builds its own
// instance with New.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
