// Package metrics provides Prometheus metrics for console session and
// authorization operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console SDK.
type Metrics struct {
	enabled bool

	// Session lifecycle metrics
	loginsTotal    *prometheus.CounterVec
	refreshesTotal *prometheus.CounterVec
	logoutsTotal   prometheus.Counter

	// Permission check metrics
	permissionChecksTotal   *prometheus.CounterVec
	permissionCheckDuration prometheus.Histogram

	// Cache metrics
	cacheEntriesTotal *prometheus.GaugeVec
	cacheHitsTotal    *prometheus.CounterVec
	cacheMissTotal    *prometheus.CounterVec

	// Backend metrics
	backendRequestDuration *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	// Session lifecycle metrics
	m.loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_logins_total",
		Help: "Total login attempts",
	}, []string{"result"})

	m.refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_token_refreshes_total",
		Help: "Total token refresh attempts",
	}, []string{"result"})

	m.logoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_logouts_total",
		Help: "Total logouts",
	})

	// Permission check metrics
	m.permissionChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_permission_checks_total",
		Help: "Total permission bitfield checks",
	}, []string{"result"})

	m.permissionCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "console_permission_check_duration_seconds",
		Help:    "Permission check duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Cache metrics
	m.cacheEntriesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_cache_entries",
		Help: "Current number of entries in cache",
	}, []string{"cache_type"})

	m.cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache_type"})

	m.cacheMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache_type"})

	// Backend metrics
	m.backendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_backend_request_duration_seconds",
		Help:    "Backend request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	return m
}

// RecordLogin records a login attempt outcome ("success" or "failure").
func (m *Metrics) RecordLogin(result string) {
	if !m.enabled {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records a token refresh outcome ("success", "failure" or
// "discarded").
func (m *Metrics) RecordRefresh(result string) {
	if !m.enabled {
		return
	}
	m.refreshesTotal.WithLabelValues(result).Inc()
}

// RecordLogout records a logout.
func (m *Metrics) RecordLogout() {
	if !m.enabled {
		return
	}
	m.logoutsTotal.Inc()
}

// RecordPermissionCheck records a permission check result ("granted",
// "denied" or "invalid").
func (m *Metrics) RecordPermissionCheck(result string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.permissionChecksTotal.WithLabelValues(result).Inc()
	m.permissionCheckDuration.Observe(durationSeconds)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	if !m.enabled {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if !m.enabled {
		return
	}
	m.cacheMissTotal.WithLabelValues(cacheType).Inc()
}

// SetCacheSize sets the current cache size.
func (m *Metrics) SetCacheSize(cacheType string, size float64) {
	if !m.enabled {
		return
	}
	m.cacheEntriesTotal.WithLabelValues(cacheType).Set(size)
}

// ObserveBackendRequest records the duration of one backend call.
func (m *Metrics) ObserveBackendRequest(endpoint string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.backendRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}
