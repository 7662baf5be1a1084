package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PushResult 推播事件的處理結果
type PushResult string

const (
	PushAccepted          PushResult = "accepted"
	PushIgnoredMismatch   PushResult = "ignored_mismatch"
	PushIgnoredResolved   PushResult = "ignored_resolved"
	PushSubscribeFailed   PushResult = "subscribe_failed"
	PushSubscribeAccepted PushResult = "subscribed"
)

// PollResult 輪詢的處理結果
type PollResult string

const (
	PollResolved  PollResult = "resolved"
	PollNoAction  PollResult = "no_action"
	PollError     PollResult = "error"
	PollMalformed PollResult = "malformed"
	PollDiscarded PollResult = "discarded"
	PollSkipped   PollResult = "skipped"
)

// WatchOutcome 監看結束方式
type WatchOutcome string

const (
	OutcomeResolved       WatchOutcome = "resolved"
	OutcomeCancelled      WatchOutcome = "cancelled"
	OutcomeStopped        WatchOutcome = "stopped"
	OutcomeMissingOrderID WatchOutcome = "missing_order_id"
)

var (
	pushEventsTotal   *prometheus.CounterVec
	pollRequestsTotal *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	resolutionsTotal  *prometheus.CounterVec
	watchOutcomeTotal *prometheus.CounterVec
	timeToResolve     prometheus.Histogram
)

// InitWatcherMetrics 初始化訂單監看 metrics
func InitWatcherMetrics(registry *prometheus.Registry) error {
	if registry == nil {
		return errors.New("prometheus registry 尚未初始化")
	}

	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_watch_push_events_total",
			Help: "Push channel events handled by the order watcher",
		},
		[]string{"transport", "result"},
	)

	pollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_watch_poll_requests_total",
			Help: "Status poll ticks handled by the order watcher",
		},
		[]string{"result"},
	)

	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_watch_poll_duration_seconds",
			Help:    "Duration of status poll requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_watch_resolutions_total",
			Help: "Driver-assigned resolutions by winning signal source",
		},
		[]string{"source"},
	)

	watchOutcomeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_watch_outcomes_total",
			Help: "Order watches by outcome",
		},
		[]string{"outcome"},
	)

	timeToResolve = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_watch_time_to_resolve_seconds",
			Help:    "Time from watch start to driver assignment",
			Buckets: []float64{1, 3, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	for _, c := range []prometheus.Collector{pushEventsTotal, pollRequestsTotal, pollDuration, resolutionsTotal, watchOutcomeTotal, timeToResolve} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// RecordPushEvent 記錄推播事件
func RecordPushEvent(transport string, result PushResult) {
	if pushEventsTotal != nil {
		pushEventsTotal.WithLabelValues(transport, string(result)).Inc()
	}
}

// RecordPoll 記錄輪詢結果
func RecordPoll(result PollResult, duration time.Duration) {
	if pollRequestsTotal != nil {
		pollRequestsTotal.WithLabelValues(string(result)).Inc()
	}
	if pollDuration != nil && duration > 0 {
		pollDuration.Observe(duration.Seconds())
	}
}

// RecordResolution 記錄司機指派判定
func RecordResolution(source string, elapsed time.Duration) {
	if resolutionsTotal != nil {
		resolutionsTotal.WithLabelValues(source).Inc()
	}
	if timeToResolve != nil {
		timeToResolve.Observe(elapsed.Seconds())
	}
}

// RecordWatchOutcome 記錄監看結束方式
func RecordWatchOutcome(outcome WatchOutcome) {
	if watchOutcomeTotal != nil {
		watchOutcomeTotal.WithLabelValues(string(outcome)).Inc()
	}
}
