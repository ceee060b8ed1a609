package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Subscription transport
	wsState            *prometheus.GaugeVec
	wsConnectsTotal    *prometheus.CounterVec
	wsDisconnectsTotal *prometheus.CounterVec
	wsResyncsTotal     *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec

	// State tracker
	decodeErrorsTotal  *prometheus.CounterVec
	framesDroppedTotal *prometheus.CounterVec
	changeEventsTotal  *prometheus.CounterVec
	trackedAccounts    prometheus.Gauge

	// Dispatch pipeline
	dispatchQueueDepth      prometheus.Gauge
	dispatchTimeoutsTotal   *prometheus.CounterVec
	dispatchHandlerDuration *prometheus.HistogramVec

	// Action executor
	actionAttemptsTotal *prometheus.CounterVec
	actionRetriesTotal  *prometheus.CounterVec
	actionTerminalTotal *prometheus.CounterVec
	rpcCallsTotal       *prometheus.CounterVec
	rpcCallDuration     *prometheus.HistogramVec
	rateLimitWaits      prometheus.Counter
	breakerOpenTotal    prometheus.Counter

	// Scan dealer
	dealerAlarmsTotal *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		wsState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ws_connection_state",
				Help: "Current websocket connection state (1 for the active state, 0 otherwise)",
			},
			[]string{"endpoint", "state"},
		),
		wsConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_connects_total",
				Help: "Total number of successful websocket connections",
			},
			[]string{"endpoint"},
		),
		wsDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_disconnects_total",
				Help: "Total number of websocket disconnects by reason",
			},
			[]string{"endpoint", "reason"},
		),
		wsResyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_resyncs_total",
				Help: "Total number of in-place resubscribe requests after a missed heartbeat",
			},
			[]string{"endpoint"},
		),
		framesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_frames_received_total",
				Help: "Total number of update frames received per subscription filter kind",
			},
			[]string{"filter_kind"},
		),

		decodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_errors_total",
				Help: "Total number of account payloads that failed to decode",
			},
			[]string{"layout"},
		),
		framesDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_dropped_total",
				Help: "Total number of frames dropped by the state tracker",
			},
			[]string{"reason"},
		),
		changeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "change_events_total",
				Help: "Total number of genuine account change events emitted",
			},
			[]string{"address"},
		),
		trackedAccounts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracked_accounts",
				Help: "Number of accounts in the authoritative snapshot map",
			},
		),

		dispatchQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_queue_depth",
				Help: "Number of change events waiting in the dispatch queue",
			},
		),
		dispatchTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_timeouts_total",
				Help: "Total number of handler invocations that exceeded the dispatch timeout",
			},
			[]string{"handler"},
		),
		dispatchHandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_handler_duration_seconds",
				Help:    "Duration of dispatch handler invocations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"handler", "status"},
		),

		actionAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_attempts_total",
				Help: "Total number of outbound action attempts by kind and status",
			},
			[]string{"kind", "status"},
		),
		actionRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_retries_total",
				Help: "Total number of action retry attempts by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		actionTerminalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "action_terminal_total",
				Help: "Total number of actions reaching a terminal state",
			},
			[]string{"kind", "status"},
		),
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		rateLimitWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rpc_rate_limit_waits_total",
				Help: "Total number of outbound calls delayed by the client-side rate limiter",
			},
		),
		breakerOpenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rpc_breaker_open_total",
				Help: "Total number of calls rejected by the open circuit breaker",
			},
		),

		dealerAlarmsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealer_alarms_total",
				Help: "Total number of scan dealer alarms raised per mint",
			},
			[]string{"mint"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Transport metric helpers

// RecordConnState sets the websocket state gauge; exactly one state is 1.
func (m *Metrics) RecordConnState(endpoint, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.wsState.WithLabelValues(endpoint, s).Set(v)
	}
}

// RecordConnect records a successful websocket connection.
func (m *Metrics) RecordConnect(endpoint string) {
	m.wsConnectsTotal.WithLabelValues(endpoint).Inc()
}

// RecordDisconnect records a websocket disconnect.
func (m *Metrics) RecordDisconnect(endpoint, reason string) {
	m.wsDisconnectsTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordResync records an in-place resubscribe after a missed heartbeat.
func (m *Metrics) RecordResync(endpoint string) {
	m.wsResyncsTotal.WithLabelValues(endpoint).Inc()
}

// RecordFrame records a received update frame.
func (m *Metrics) RecordFrame(filterKind string) {
	m.framesReceived.WithLabelValues(filterKind).Inc()
}

// Tracker metric helpers

// RecordDecodeError records a payload that failed to decode.
func (m *Metrics) RecordDecodeError(layout string) {
	m.decodeErrorsTotal.WithLabelValues(layout).Inc()
}

// RecordFrameDropped records a frame dropped by the tracker.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.framesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordChangeEvent records an emitted change event.
func (m *Metrics) RecordChangeEvent(address string) {
	m.changeEventsTotal.WithLabelValues(address).Inc()
}

// RecordTrackedAccounts sets the snapshot map size.
func (m *Metrics) RecordTrackedAccounts(n int) {
	m.trackedAccounts.Set(float64(n))
}

// Dispatch metric helpers

// RecordQueueDepth sets the dispatch queue depth.
func (m *Metrics) RecordQueueDepth(n int) {
	m.dispatchQueueDepth.Set(float64(n))
}

// RecordDispatchTimeout records a handler that exceeded the dispatch timeout.
func (m *Metrics) RecordDispatchTimeout(handler string) {
	m.dispatchTimeoutsTotal.WithLabelValues(handler).Inc()
}

// RecordHandlerDuration records a handler invocation.
func (m *Metrics) RecordHandlerDuration(handler, status string, duration float64) {
	m.dispatchHandlerDuration.WithLabelValues(handler, status).Observe(duration)
}

// Executor metric helpers

// RecordActionAttempt records an outbound action attempt.
func (m *Metrics) RecordActionAttempt(kind, status string) {
	m.actionAttemptsTotal.WithLabelValues(kind, status).Inc()
}

// RecordActionRetry records an action retry.
func (m *Metrics) RecordActionRetry(kind, reason string) {
	m.actionRetriesTotal.WithLabelValues(kind, reason).Inc()
}

// RecordActionTerminal records an action reaching a terminal state.
func (m *Metrics) RecordActionTerminal(kind, status string) {
	m.actionTerminalTotal.WithLabelValues(kind, status).Inc()
}

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitWait records an outbound call delayed by the rate limiter.
func (m *Metrics) RecordRateLimitWait() {
	m.rateLimitWaits.Inc()
}

// RecordBreakerOpen records a call rejected by the open circuit breaker.
func (m *Metrics) RecordBreakerOpen() {
	m.breakerOpenTotal.Inc()
}

// Scan dealer metric helpers

// RecordDealerAlarm records a raised dealer alarm.
func (m *Metrics) RecordDealerAlarm(mint string) {
	m.dealerAlarmsTotal.WithLabelValues(mint).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}
