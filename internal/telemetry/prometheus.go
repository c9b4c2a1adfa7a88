package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTracker exposes the latest record as gauges.
type PrometheusTracker struct {
	reward    prometheus.Gauge
	step      prometheus.Gauge
	variables *prometheus.GaugeVec
	steps     prometheus.Counter
	penalized *prometheus.CounterVec
	reg       prometheus.Registerer
}

// NewPrometheusTracker registers its collectors on reg.
func NewPrometheusTracker(reg prometheus.Registerer) (*PrometheusTracker, error) {
	t := &PrometheusTracker{
		reward: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nonwoven", Name: "objective_value",
			Help: "Objective value of the latest step.",
		}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nonwoven", Name: "step_index",
			Help: "Index of the latest logged step.",
		}),
		variables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nonwoven", Name: "variable",
			Help: "Latest value of every logged variable, by record group.",
		}, []string{"group", "name"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nonwoven", Name: "steps_total",
			Help: "Logged steps.",
		}),
		penalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nonwoven", Name: "constraint_violations_total",
			Help: "Steps with at least one violated bound, by constraint group.",
		}, []string{"group"}),
		reg: reg,
	}
	for _, c := range t.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *PrometheusTracker) collectors() []prometheus.Collector {
	return []prometheus.Collector{t.reward, t.step, t.variables, t.steps, t.penalized}
}

// Log updates every gauge from rec.
func (t *PrometheusTracker) Log(_ context.Context, rec Record) error {
	t.reward.Set(rec.Reward)
	t.step.Set(float64(rec.Step))
	t.steps.Inc()
	for group, leaves := range rec.Groups() {
		if group == GroupPerformance {
			continue
		}
		for name, v := range leaves {
			t.variables.WithLabelValues(group, name).Set(v)
		}
	}
	for group, ok := range map[string]bool{
		GroupSetpointConstraint:  rec.SetpointsMet(),
		GroupDependentConstraint: rec.DependentMet(),
		GroupOutputConstraint:    rec.OutputsMet(),
	} {
		if !ok {
			t.penalized.WithLabelValues(group).Inc()
		}
	}
	return nil
}

// Close unregisters the collectors.
func (t *PrometheusTracker) Close() error {
	for _, c := range t.collectors() {
		t.reg.Unregister(c)
	}
	return nil
}
