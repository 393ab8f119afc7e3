package mlmg

import (
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the outcome of the last Solve. StatusMaxIters, StatusStalled,
// StatusDiverged and StatusFixedIters are completed solves that missed
// their tolerance; Solve still returns the residual reached.
type Status uint8

const (
	StatusNotRun Status = iota
	StatusConverged
	StatusMaxIters
	StatusStalled
	StatusDiverged
	// StatusFixedIters reports a fixed iteration count exhausted before the
	// tolerance was met.
	StatusFixedIters
	// StatusFailed is set when Solve returns an error
	StatusFailed
)

var statusNames = [...]string{"not-run", "converged", "max-iters", "stalled", "diverged", "fixed-iters", "failed"}

func (st Status) String() string {
	if int(st) < len(statusNames) {
		return statusNames[st]
	}
	return fmt.Sprintf("Status(%d)", uint8(st))
}

const (
	minTolRel = 1e-16
	// divergeFactor times the reference norm marks a diverged solve
	divergeFactor = 1e20
)

// target returns the residual norm that ends the solve and the reference
// norm it is relative to.
func (s *Solver) target(tolRel, tolAbs float64) (target, maxNorm float64) {
	maxNorm = s.initResNorm0
	if s.cfg.AlwaysUseBNorm || s.rhsNorm0 >= s.initResNorm0 {
		maxNorm = s.rhsNorm0
	}
	return math.Max(tolAbs, math.Max(tolRel, minTolRel)*maxNorm), maxNorm
}

// iterate runs cycles until a stopping condition is met
func (s *Solver) iterate(tolRel, tolAbs float64) error {
	nf := s.finest()
	s.computeMLResidual(nf)

	if s.nested {
		for iter := 0; iter < s.cfg.FixedIters; iter++ {
			if err := s.cycle(iter); err != nil {
				return err
			}
			s.computeResidual(nf)
			s.numIters = iter + 1
		}
		s.status = StatusFixedIters
		return nil
	}

	s.initResNorm0 = s.mlResNormInf(nf)
	s.rhsNorm0 = s.mlRhsNormInf()
	s.finalResNorm0 = s.initResNorm0
	target, maxNorm := s.target(tolRel, tolAbs)
	if s.cfg.Verbose >= 1 {
		s.log.Info("mlmg: initial",
			zap.Float64("rhs", s.rhsNorm0),
			zap.Float64("residual", s.initResNorm0),
			zap.Float64("target", target))
	}
	if s.initResNorm0 <= target {
		s.status = StatusConverged
		if s.cfg.Verbose >= 1 {
			s.log.Info("mlmg: no iterations needed")
		}
		return nil
	}

	fixed := s.cfg.FixedIters > 0
	maxIters, exhausted := s.cfg.MaxIters, StatusMaxIters
	if fixed {
		maxIters, exhausted = s.cfg.FixedIters, StatusFixedIters
	}

	s.status = exhausted
	prev := s.initResNorm0
	stalled := 0
	for iter := 0; iter < maxIters; iter++ {
		if err := s.cycle(iter); err != nil {
			return err
		}

		s.computeResidual(nf)
		norm := s.resNormInf(nf)
		converged := norm <= target
		if converged && nf > 0 {
			s.computeMLResidual(nf - 1)
			crse := s.mlResNormInf(nf - 1)
			converged = crse <= target
			norm = math.Max(norm, crse)
		}

		s.finalResNorm0 = norm
		s.resHistory = append(s.resHistory, norm)
		s.bottomHistory = append(s.bottomHistory, s.iterBottom)
		s.numIters = iter + 1
		if s.cfg.Verbose >= 2 {
			s.log.Info("mlmg: iteration",
				zap.Int("iter", s.numIters),
				zap.Float64("residual", norm),
				zap.Float64("ratio", norm/maxNorm),
				zap.Int("bottom_iterations", s.iterBottom))
		}

		if converged {
			s.status = StatusConverged
			break
		}
		if math.IsNaN(norm) || norm > divergeFactor*maxNorm {
			s.status = StatusDiverged
			break
		}
		if !fixed {
			if norm >= s.cfg.StallRatio*prev {
				stalled++
			} else {
				stalled = 0
			}
			if stalled >= s.cfg.StallIters {
				s.status = StatusStalled
				break
			}
		}
		prev = norm
	}

	if s.status != StatusConverged {
		s.log.Warn("mlmg: solve did not converge",
			zap.Stringer("status", s.status),
			zap.Int("iterations", s.numIters),
			zap.Float64("residual", s.finalResNorm0),
			zap.Float64("target", target))
	}
	return nil
}

// cycle runs one iteration inside its own span and timer
func (s *Solver) cycle(iter int) error {
	_, span := s.tracer.Start(s.ctx, "mlmg.Iteration",
		trace.WithAttributes(
			attribute.Int("mlmg.iter", iter),
			attribute.Bool("mlmg.fcycle", iter < s.cfg.MaxFmgIters)))
	defer span.End()

	s.iterBottom = 0
	t0 := time.Now()
	err := s.oneIter(iter)
	s.timers.Iteration += time.Since(t0)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
