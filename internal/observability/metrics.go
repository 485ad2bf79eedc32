package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe to call on a nil receiver so components can run
// without a registry in tests.
type Metrics struct {
	ipChanges       prometheus.Counter
	reconcileCycles *prometheus.CounterVec
	listenerBinds   prometheus.Counter
	activeListeners prometheus.Gauge
	deliveries      *prometheus.CounterVec
	commands        *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	return &Metrics{
		ipChanges: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "polybot_public_ip_changes_total",
			Help: "Number of public address changes observed by the identity monitor",
		}),
		reconcileCycles: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_reconcile_cycles_total",
			Help: "Reconciliation cycles labelled by outcome",
		}, []string{"outcome"}),
		listenerBinds: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "polybot_listener_binds_total",
			Help: "Number of times the HTTPS listener was bound",
		}),
		activeListeners: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "polybot_listener_active",
			Help: "HTTPS listeners currently bound",
		}),
		deliveries: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_webhook_deliveries_total",
			Help: "Inbound webhook deliveries labelled by result",
		}, []string{"result"}),
		commands: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "polybot_commands_total",
			Help: "Dispatched bot commands labelled by command",
		}, []string{"command"}),
		httpDuration: promFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polybot_http_request_duration_seconds",
			Help:    "Latency of requests served by the HTTPS listener",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) IPChanged() {
	if m == nil {
		return
	}
	m.ipChanges.Inc()
}

func (m *Metrics) ReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reconcileCycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ListenerBound() {
	if m == nil {
		return
	}
	m.listenerBinds.Inc()
	m.activeListeners.Inc()
}

func (m *Metrics) ListenerClosed() {
	if m == nil {
		return
	}
	m.activeListeners.Dec()
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) HTTPRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
