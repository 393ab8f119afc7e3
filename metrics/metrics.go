// Package metrics exports Prometheus collectors for multigrid solves.
//
// A nil *Collector is valid and records nothing, so the solver can call it
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amrmg"

// Collector holds the solve metrics
type Collector struct {
	// SolvesTotal counts completed solves. Labels: status
	SolvesTotal *prometheus.CounterVec
	// Iterations measures multigrid iterations per solve
	Iterations prometheus.Histogram
	// BottomIterationsTotal counts iterations issued by bottom solvers
	BottomIterationsTotal prometheus.Counter
	// BottomFailuresTotal counts bottom solves that did not reach their
	// tolerance. Labels: solver
	BottomFailuresTotal *prometheus.CounterVec
	// FinalResidual is the composite residual norm of the last solve
	FinalResidual prometheus.Gauge
	// SolveSeconds measures wall time per solve
	SolveSeconds prometheus.Histogram
}

// NewCollector creates the collectors and registers them with reg when reg
// is not nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "solves_total",
				Help:      "Completed multigrid solves by final status",
			},
			[]string{"status"},
		),
		Iterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "iterations",
				Help:      "Multigrid iterations per solve",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
			},
		),
		BottomIterationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "bottom_iterations_total",
				Help:      "Iterations issued by bottom solvers",
			},
		),
		BottomFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "bottom_failures_total",
				Help:      "Bottom solves ending without reaching tolerance",
			},
			[]string{"solver"},
		),
		FinalResidual: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "final_residual",
				Help:      "Composite residual norm at the end of the last solve",
			},
		),
		SolveSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mlmg",
				Name:      "solve_seconds",
				Help:      "Wall time of a multigrid solve",
				Buckets:   prometheus.ExponentialBuckets(1e-3, 4, 10),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(c.SolvesTotal, c.Iterations, c.BottomIterationsTotal,
			c.BottomFailuresTotal, c.FinalResidual, c.SolveSeconds)
	}
	return c
}

// ObserveSolve records the outcome of one solve
func (c *Collector) ObserveSolve(status string, iters int, finalResidual, seconds float64) {
	if c == nil {
		return
	}
	c.SolvesTotal.WithLabelValues(status).Inc()
	c.Iterations.Observe(float64(iters))
	c.FinalResidual.Set(finalResidual)
	c.SolveSeconds.Observe(seconds)
}

func (c *Collector) AddBottomIterations(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BottomIterationsTotal.Add(float64(n))
}

func (c *Collector) BottomFailure(solver string) {
	if c == nil {
		return
	}
	c.BottomFailuresTotal.WithLabelValues(solver).Inc()
}
