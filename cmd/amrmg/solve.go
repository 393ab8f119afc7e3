package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/notargets/amrmg/checkpoint"
	"github.com/notargets/amrmg/config"
	"github.com/notargets/amrmg/extsolve"
	"github.com/notargets/amrmg/logging"
	"github.com/notargets/amrmg/metrics"
	"github.com/notargets/amrmg/mlmg"
	"github.com/notargets/amrmg/tracing"
)

// problemKey is the checkpoint annotation holding the problem YAML
const problemKey = "problem"

func newLogger() (*zap.Logger, error) { return logging.New(verbose, jsonLogs) }

// session holds the metric and trace sinks of one command
type session struct {
	reg       *prometheus.Registry
	collector *metrics.Collector
	tp        *sdktrace.TracerProvider
	traceFile *os.File
}

func openSession() (*session, error) {
	s := &session{reg: prometheus.NewRegistry()}
	s.collector = metrics.NewCollector(s.reg)
	if traceOut == "" {
		return s, nil
	}
	var w io.Writer = os.Stdout
	if traceOut != "-" {
		f, err := os.Create(traceOut)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		s.traceFile, w = f, f
	}
	tp, err := tracing.NewProvider(w, version)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}
	s.tp = tp
	return s, nil
}

func (s *session) options(cfg mlmg.Config, extra ...mlmg.Option) []mlmg.Option {
	opts := []mlmg.Option{
		mlmg.WithConfig(cfg),
		mlmg.WithLogger(logger.Named("mlmg")),
		mlmg.WithMetrics(s.collector),
		mlmg.WithBackends(extsolve.NewRegistry(
			extsolve.NewDirect(extsolve.KindHypre),
			extsolve.NewDirect(extsolve.KindPETSc),
		)),
	}
	if s.tp != nil {
		opts = append(opts, mlmg.WithTracerProvider(s.tp))
	}
	return append(opts, extra...)
}

func (s *session) close(ctx context.Context) {
	if s.tp != nil {
		if err := s.tp.Shutdown(ctx); err != nil {
			logger.Warn("Trace flush failed", zap.Error(err))
		}
	}
	if s.traceFile != nil {
		_ = s.traceFile.Close()
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verbose") {
		f.Solver.Verbose = verbose
	}
	if dir, _ := cmd.Flags().GetString("checkpoint"); dir != "" {
		f.Solver.CheckpointDir = dir
	}

	op, err := f.Problem.Build()
	if err != nil {
		return err
	}
	problem, err := yaml.Marshal(f.Problem)
	if err != nil {
		return fmt.Errorf("failed to marshal problem: %w", err)
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	s, err := mlmg.New(op, sess.options(f.Solver,
		mlmg.WithAnnotations(map[string]string{problemKey: string(problem)}))...)
	if err != nil {
		return err
	}
	logger.Info("Solving",
		zap.String("config", path),
		zap.Int("amr_levels", op.NumAMRLevels()),
		zap.Int("mg_levels", op.NumMGLevels(0)),
		zap.Stringer("bottom", s.EffectiveBottomSolver()))

	sol, rhs := f.Problem.Fields(op)
	if _, err := s.SolveContext(cmd.Context(), sol, rhs, f.TolRel, f.TolAbs); err != nil {
		return fmt.Errorf("solve failed: %w", err)
	}

	out := cmd.OutOrStdout()
	report(out, s)
	fmt.Fprintf(out, "max error      %.6e\n", f.Problem.MaxError(op, sol))
	if show, _ := cmd.Flags().GetBool("metrics"); show {
		return printMetrics(out, sess.reg)
	}
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cp, err := checkpoint.Read(args[0])
	if err != nil {
		return err
	}
	doc, ok := cp.Header.Annotations[problemKey]
	if !ok {
		return fmt.Errorf("checkpoint %s has no problem description", args[0])
	}
	var p config.Problem
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		return fmt.Errorf("failed to parse checkpointed problem: %w", err)
	}
	cfg := mlmg.DefaultConfig()
	if err := cp.Header.DecodeSolver(&cfg); err != nil {
		return fmt.Errorf("failed to parse checkpointed solver: %w", err)
	}
	cfg.CheckpointDir = ""
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}

	op, err := p.Build()
	if err != nil {
		return err
	}
	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	s, err := mlmg.New(op, sess.options(cfg)...)
	if err != nil {
		return err
	}
	logger.Info("Replaying",
		zap.String("dir", args[0]),
		zap.String("run_id", cp.Header.RunID),
		zap.Time("created", cp.Header.Created))
	if _, err := s.SolveContext(cmd.Context(), cp.Sol, cp.Rhs, cp.Header.TolRel, cp.Header.TolAbs); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	out := cmd.OutOrStdout()
	report(out, s)
	fmt.Fprintf(out, "max error      %.6e\n", p.MaxError(op, cp.Sol))
	if show, _ := cmd.Flags().GetBool("metrics"); show {
		return printMetrics(out, sess.reg)
	}
	return nil
}

// report prints the residual history and the outcome of the last solve
func report(w io.Writer, s *mlmg.Solver) {
	ref := s.InitResidual()
	bottom := s.BottomIterHistory()
	for k, r := range s.ResidualHistory() {
		rel := r
		if ref > 0 {
			rel = r / ref
		}
		fmt.Fprintf(w, "iter %4d      %.6e  %.3e  bottom %d\n", k+1, r, rel, bottom[k])
	}
	fmt.Fprintf(w, "status         %v\n", s.Status())
	fmt.Fprintf(w, "iterations     %d\n", s.NumIters())
	fmt.Fprintf(w, "bottom solver  %v\n", s.EffectiveBottomSolver())
	fmt.Fprintf(w, "residual       %.6e\n", s.FinalResidual())
	t := s.Timers()
	fmt.Fprintf(w, "time           %v (iterations %v, bottom %v)\n", t.Solve, t.Iteration, t.Bottom)
}

// printMetrics writes one line per sample of the gathered families
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labels(m)
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				fmt.Fprintf(w, "%s %g\n", name, m.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s_count %d\n", name, h.GetSampleCount())
				fmt.Fprintf(w, "%s_sum %g\n", name, h.GetSampleSum())
			}
		}
	}
	return nil
}

func labels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}
