package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricsNamespace = "right_rider"

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_requests_total",
			Help:      "API requests by operation and status code",
		},
		[]string{"operation", "status_code"},
	)

	apiRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency by operation",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	orderWatchSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "order_watch_sockets",
			Help:      "Open order-watch WebSocket connections on the mock backend",
		},
	)

	watchEventClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "watch_event_clients",
			Help:      "Connected /watch/events SSE clients",
		},
	)

	promRegistry *prometheus.Registry
)

// InitPrometheusMetrics 建立 registry 並註冊 API 與連線指標
func InitPrometheusMetrics(logger zerolog.Logger) error {
	registry := prometheus.NewRegistry()

	for _, collector := range []prometheus.Collector{
		apiRequestsTotal,
		apiRequestDurationSeconds,
		orderWatchSockets,
		watchEventClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return fmt.Errorf("註冊 Prometheus collector 失敗: %w", err)
		}
	}

	promRegistry = registry
	logger.Info().Msg("Prometheus metrics 初始化成功")
	return nil
}

// GetStandardPrometheusHandler 尚未初始化時回 503
func GetStandardPrometheusHandler() http.Handler {
	if promRegistry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Prometheus registry not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry})
}

func GetPrometheusRegistry() *prometheus.Registry {
	return promRegistry
}

// PrometheusMiddleware 以 huma operation ID 為標籤，避免路徑參數造成高基數
func PrometheusMiddleware(logger zerolog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if promRegistry == nil {
			next(ctx)
			return
		}

		started := time.Now()
		next(ctx)
		elapsed := time.Since(started)

		operation := operationLabel(ctx)
		status := ctx.Status()
		apiRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
		apiRequestDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())

		logger.Debug().
			Str("operation", operation).
			Int("status_code", status).
			Dur("elapsed", elapsed).
			Msg("API 請求完成")
	}
}

func operationLabel(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil && op.OperationID != "" {
		return op.OperationID
	}
	return "unknown"
}

// UpdateWebSocketConnections 更新訂單監看 WebSocket 連線數
func UpdateWebSocketConnections(count int) {
	orderWatchSockets.Set(float64(count))
}

// UpdateWatchEventClients 更新 SSE 監看客戶端數
func UpdateWatchEventClients(count int) {
	watchEventClients.Set(float64(count))
}
