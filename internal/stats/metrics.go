// Package stats espone le metriche Prometheus dell'orchestratore
package stats

import (
	"context"
	"net/http"
	"time"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/notifications"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelName nome con cui Metrics si registra come canale di notifica
const ChannelName = "metrics"

// Metrics raccoglie le metriche su un registry dedicato
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	attemptsTotal     *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
	costTotal         *prometheus.CounterVec
	backendTransition *prometheus.CounterVec
	backendLive       *prometheus.GaugeVec
	conversations     *prometheus.CounterVec
	convDuration      prometheus.Histogram
}

// NewMetrics crea le metriche con il namespace indicato
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "operatoros"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{namespace: namespace, registry: reg}

	m.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Backend attempts by backend, agent and result",
		},
		[]string{"backend", "agent", "result"},
	)

	m.attemptDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempt_duration_milliseconds",
			Help:      "Backend attempt latency in milliseconds",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 15000, 30000},
		},
		[]string{"backend"},
	)

	m.tokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by backend and type",
		},
		[]string{"backend", "type"},
	)

	m.costTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_total",
			Help:      "Estimated cost of successful steps",
		},
		[]string{"backend"},
	)

	m.backendTransition = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_transitions_total",
			Help:      "Live set transitions by backend and direction",
		},
		[]string{"backend", "direction"},
	)

	m.backendLive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_live",
			Help:      "1 if the backend is in the live set",
		},
		[]string{"backend"},
	)

	m.conversations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events",
		},
		[]string{"event"},
	)

	m.convDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_duration_seconds",
			Help:      "Wall time from creation to completion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry restituisce il registry Prometheus
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler handler HTTP per lo scrape
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt implementa executor.Recorder
func (m *Metrics) RecordAttempt(backend string, role agents.Role, result string, latency time.Duration) {
	m.attemptsTotal.WithLabelValues(backend, string(role), result).Inc()
	m.attemptDuration.WithLabelValues(backend).Observe(float64(latency.Milliseconds()))
}

// RecordUsage implementa executor.Recorder
func (m *Metrics) RecordUsage(backend string, usage providers.Usage, cost float64) {
	m.tokensTotal.WithLabelValues(backend, "prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues(backend, "completion").Add(float64(usage.CompletionTokens))
	if cost > 0 {
		m.costTotal.WithLabelValues(backend).Add(cost)
	}
}

// ObserveLive da usare come router.LiveObserver
func (m *Metrics) ObserveLive(backend string, live bool) {
	direction := "excluded"
	value := 0.0
	if live {
		direction, value = "restored", 1.0
	}
	m.backendTransition.WithLabelValues(backend, direction).Inc()
	m.backendLive.WithLabelValues(backend).Set(value)
}

// SetLive inizializza il gauge di un backend
func (m *Metrics) SetLive(backend string, live bool) {
	value := 0.0
	if live {
		value = 1.0
	}
	m.backendLive.WithLabelValues(backend).Set(value)
}

// Name implementa notifications.Channel
func (m *Metrics) Name() string { return ChannelName }

// Send implementa notifications.Channel contando gli eventi di conversazione
func (m *Metrics) Send(ctx context.Context, event notifications.Event) error {
	m.conversations.WithLabelValues(string(event.Type())).Inc()
	if ce, ok := event.(*notifications.ConversationEvent); ok && ce.Type() == notifications.EventConversationCompleted {
		m.convDuration.Observe(ce.Duration.Seconds())
	}
	return nil
}
