// Package metrics exposes the pipeline's Prometheus instruments. A nil
// *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the signal pipeline.
type Registry struct {
	reg *prometheus.Registry

	ProviderCalls    *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	ItemsCollected   *prometheus.CounterVec
	ItemsProcessed   prometheus.Counter
	SignalsGenerated *prometheus.CounterVec

	ValidationOutcomes *prometheus.CounterVec
	SourceWeight       *prometheus.GaugeVec

	TriggerDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with every pipeline metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalintel_provider_calls_total",
				Help: "Provider call attempts by provider and result",
			},
			[]string{"provider", "result"},
		),

		ProviderRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalintel_provider_retries_total",
				Help: "Provider retries after a quota or transient failure",
			},
			[]string{"provider"},
		),

		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalintel_provider_call_duration_seconds",
				Help:    "Latency of individual provider attempts",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 45},
			},
			[]string{"provider"},
		),

		ItemsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalintel_items_collected_total",
				Help: "Raw items gathered by collector",
			},
			[]string{"collector"},
		),

		ItemsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalintel_items_processed_total",
				Help: "Raw items consumed by extraction",
			},
		),

		SignalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalintel_signals_generated_total",
				Help: "Signals persisted by tier",
			},
			[]string{"type"},
		),

		ValidationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalintel_validation_outcomes_total",
				Help: "Resolved validation windows by window and outcome",
			},
			[]string{"window", "outcome"},
		),

		SourceWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalintel_source_weight",
				Help: "Current credibility weight per source",
			},
			[]string{"source"},
		),

		TriggerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalintel_trigger_duration_seconds",
				Help:    "Duration of pipeline trigger operations",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation", "result"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ProviderCalls,
		r.ProviderRetries,
		r.ProviderDuration,
		r.ItemsCollected,
		r.ItemsProcessed,
		r.SignalsGenerated,
		r.ValidationOutcomes,
		r.SourceWeight,
		r.TriggerDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) ObserveProviderCall(provider, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ProviderCalls.WithLabelValues(provider, result).Inc()
	r.ProviderDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (r *Registry) IncProviderRetry(provider string) {
	if r == nil {
		return
	}
	r.ProviderRetries.WithLabelValues(provider).Inc()
}

func (r *Registry) AddItemsCollected(collector string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ItemsCollected.WithLabelValues(collector).Add(float64(n))
}

func (r *Registry) AddItemsProcessed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ItemsProcessed.Add(float64(n))
}

func (r *Registry) IncSignal(signalType string) {
	if r == nil {
		return
	}
	r.SignalsGenerated.WithLabelValues(signalType).Inc()
}

func (r *Registry) IncValidationOutcome(window, outcome string) {
	if r == nil {
		return
	}
	r.ValidationOutcomes.WithLabelValues(window, outcome).Inc()
}

func (r *Registry) SetSourceWeight(source string, weight float64) {
	if r == nil {
		return
	}
	r.SourceWeight.WithLabelValues(source).Set(weight)
}

func (r *Registry) ObserveTrigger(operation string, success bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.TriggerDuration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}
