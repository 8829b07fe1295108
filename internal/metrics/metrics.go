// Package metrics provides Prometheus instrumentation for the risk service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// CyclesTotal counts completed evaluation cycles by result.
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Name:      "evaluation_cycles_total",
			Help:      "Total evaluation cycles by result (ok, error).",
		},
		[]string{"result"},
	)

	// CycleDuration observes the wall time of one full evaluation cycle.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskwatch",
		Name:      "evaluation_cycle_duration_seconds",
		Help:      "Duration of one full evaluation cycle in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// SnapshotsTotal counts metric snapshots persisted.
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Name:      "snapshots_persisted_total",
		Help:      "Total metric snapshots persisted.",
	})

	// AccountsSkippedTotal counts accounts skipped for an empty trade window.
	AccountsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Name:      "accounts_skipped_total",
		Help:      "Total account evaluations skipped because the trade window was empty.",
	})

	// EvaluationErrorsTotal counts per-account evaluation failures by stage.
	EvaluationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Name:      "evaluation_errors_total",
			Help:      "Total per-account evaluation failures by stage (fetch, persist).",
		},
		[]string{"stage"},
	)

	// AlertsTotal counts risk alerts raised (score above threshold).
	AlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskwatch",
		Name:      "alerts_total",
		Help:      "Total risk alerts raised.",
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskwatch",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result (ok, error).",
		},
		[]string{"result"},
	)

	// SchedulerRunning reports whether the evaluation loop is alive.
	SchedulerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Name:      "scheduler_running",
		Help:      "1 when the evaluation loop is running, 0 otherwise.",
	})

	// ActiveWebSocketClients tracks connected alert-stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CyclesTotal,
		CycleDuration,
		SnapshotsTotal,
		AccountsSkippedTotal,
		EvaluationErrorsTotal,
		AlertsTotal,
		WebhookDeliveriesTotal,
		SchedulerRunning,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
