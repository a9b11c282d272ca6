// Package metrics provides Prometheus instrumentation for the ShelfSwap platform.
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
			Namespace: "shelfswap",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shelfswap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrderTransitionsTotal counts order state transitions by target status.
	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfswap",
			Name:      "order_transitions_total",
			Help:      "Total order state transitions by target status.",
		},
		[]string{"to"},
	)

	// PaymentOperationsTotal counts payment processor calls by operation and result.
	PaymentOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfswap",
			Name:      "payment_operations_total",
			Help:      "Total payment processor operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfswap",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelfswap",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// OpenDisputes tracks disputes currently open or in mediation.
	OpenDisputes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelfswap",
			Name:      "open_disputes",
			Help:      "Number of disputes currently open or in mediation.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Order lifecycle metrics (extended) ---

	OrdersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "orders_created_total",
		Help:      "Total orders created.",
	})

	OrdersCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "orders_completed_total",
		Help:      "Total orders completed (funds released to seller).",
	})

	OrdersAutoCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "orders_auto_completed_total",
		Help:      "Total orders auto-completed after the delivery grace period.",
	})

	OrderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shelfswap",
		Name:      "order_duration_seconds",
		Help:      "Time from order creation to a terminal status in seconds.",
		Buckets:   []float64{60, 600, 3600, 21600, 86400, 259200, 604800, 1209600},
	})

	// --- Dispute metrics (extended) ---

	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	DisputesEscalatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "disputes_escalated_total",
		Help:      "Total disputes escalated to mediation.",
	})

	DisputesResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Name:      "disputes_resolved_total",
		Help:      "Total disputes resolved by outcome.",
	}, []string{"outcome"})

	DisputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shelfswap",
		Name:      "dispute_duration_seconds",
		Help:      "Time from dispute opening to resolution in seconds.",
		Buckets:   []float64{60, 600, 3600, 21600, 86400, 172800, 604800},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrderTransitionsTotal,
		PaymentOperationsTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		OpenDisputes,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		OrdersCreatedTotal,
		OrdersCompletedTotal,
		OrdersAutoCompletedTotal,
		OrderDuration,
		DisputesOpenedTotal,
		DisputesEscalatedTotal,
		DisputesResolvedTotal,
		DisputeDuration,
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
