package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "faas"

// Metrics holds the controller's Prometheus collectors.
type Metrics struct {
	deploys            *prometheus.CounterVec
	invocations        *prometheus.CounterVec
	invocationErrors   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	droppedWrites      prometheus.Counter
	promoted           prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_total",
				Help:      "Function deploy attempts by region and outcome",
			},
			[]string{"region", "outcome"},
		),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Successful function invocations",
			},
			[]string{"project", "function"},
		),
		invocationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_errors_total",
				Help:      "Failed function invocations by error class",
			},
			[]string{"project", "function", "class"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of successful function invocations",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"project", "function"},
		),
		droppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_writes_dropped_total",
			Help:      "Invocation metric writes dropped because the write queue was full",
		}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_promotions_total",
			Help:      "Pending functions promoted to active by the reconciler",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"deploys":            m.deploys,
		"invocations":        m.invocations,
		"invocationErrors":   m.invocationErrors,
		"invocationDuration": m.invocationDuration,
		"droppedWrites":      m.droppedWrites,
		"promoted":           m.promoted,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s metric: %w", name, err)
		}
	}
	return m, nil
}

func (m *Metrics) DeployFinished(region, outcome string) {
	m.deploys.WithLabelValues(region, outcome).Inc()
}

func (m *Metrics) InvocationSucceeded(project, function string, d time.Duration) {
	m.invocations.WithLabelValues(project, function).Inc()
	m.invocationDuration.WithLabelValues(project, function).Observe(d.Seconds())
}

func (m *Metrics) InvocationFailed(project, function, class string) {
	m.invocationErrors.WithLabelValues(project, function, class).Inc()
}

func (m *Metrics) WriteDropped() {
	m.droppedWrites.Inc()
}

func (m *Metrics) Promoted(n int) {
	m.promoted.Add(float64(n))
}
