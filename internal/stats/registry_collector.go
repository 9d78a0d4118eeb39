package stats

import (
	"fmt"

	"github.com/biodoia/operatoros/internal/router"
	"github.com/prometheus/client_golang/prometheus"
)

// StatusSource sorgente dello stato dei backend letto a ogni scrape
type StatusSource interface {
	Status() []router.BackendStatus
}

// RegistryCollector espone lo stato del registry al momento dello scrape
type RegistryCollector struct {
	source StatusSource

	requests *prometheus.Desc
	latency  *prometheus.Desc
	priority *prometheus.Desc
}

// WatchRegistry registra un collector che legge lo stato di source a ogni scrape
func (m *Metrics) WatchRegistry(source StatusSource) error {
	c := newRegistryCollector(m.namespace, source)
	if err := m.registry.Register(c); err != nil {
		return fmt.Errorf("failed to register registry collector: %w", err)
	}
	return nil
}

func newRegistryCollector(namespace string, source StatusSource) *RegistryCollector {
	return &RegistryCollector{
		source: source,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "requests_total"),
			"Requests recorded by the registry per backend and outcome",
			[]string{"backend", "outcome"}, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "avg_latency_milliseconds"),
			"Moving average of successful call latency",
			[]string{"backend"}, nil,
		),
		priority: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "priority"),
			"Configured backend priority",
			[]string{"backend"}, nil,
		),
	}
}

// Describe implementa prometheus.Collector
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.latency
	ch <- c.priority
}

// Collect implementa prometheus.Collector
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.source.Status() {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(st.SuccessCount), st.Name, "success")
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(st.ErrorCount), st.Name, "error")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(st.AvgLatency.Milliseconds()), st.Name)
		ch <- prometheus.MustNewConstMetric(c.priority, prometheus.GaugeValue, float64(st.Priority), st.Name)
	}
}
