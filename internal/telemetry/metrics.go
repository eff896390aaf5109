// Package telemetry counts what a newsletter run did and optionally pushes
// the numbers to a Prometheus Pushgateway when the run ends.
package telemetry

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/newsletter/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "newsletter"

// Metrics owns a private registry. All methods are safe on a nil receiver so
// callers can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	runs       *prometheus.CounterVec
	turns      prometheus.Histogram
	tools      *prometheus.CounterVec
	extracted  prometheus.Counter
	skipped    prometheus.Counter
	deliveries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome (sent or the failing stage).",
		}, []string{"outcome"}),
		turns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planning_turns",
			Help:      "Planning turns used per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_extracted_total",
			Help:      "Article records produced by extraction.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "containers_skipped_total",
			Help:      "Article containers that could not be read.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.runs, m.turns, m.tools, m.extracted, m.skipped, m.deliveries)
	return m
}

// Gatherer exposes the registry, mainly for tests and the push path.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObserveExtraction satisfies capability.ExtractionObserver.
func (m *Metrics) ObserveExtraction(res models.ExtractionResult) {
	if m == nil {
		return
	}
	m.extracted.Add(float64(len(res.Records)))
	m.skipped.Add(float64(res.Skipped))
}

func (m *Metrics) ObserveToolResults(results []models.ToolCallResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		result := "ok"
		if !r.OK {
			result = "error"
		}
		m.tools.WithLabelValues(r.Name, result).Inc()
	}
}

// ObserveRun records the outcome label and the number of planning turns.
// Runs that never reached the orchestrator report zero turns and are not
// added to the histogram.
func (m *Metrics) ObserveRun(outcome string, turns int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if turns > 0 {
		m.turns.Observe(float64(turns))
	}
}

func (m *Metrics) ObserveDelivery(status models.DeliveryStatus) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(status)).Inc()
}

// Push sends the registry to a Pushgateway, replacing the job's group.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
