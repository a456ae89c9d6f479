package benchmarkorchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/benchmark"
	"github.com/h4x3rotab/docker-unpack-bench/report"
	"github.com/h4x3rotab/docker-unpack-bench/unpacker"
)

type suiteOrchestrator struct {
	cfg      *BenchmarkConfig
	unpacker unpacker.Unpacker
	runner   benchmark.TrialRunner
	now      func() time.Time
}

func NewSuiteOrchestrator(cfg *BenchmarkConfig, u unpacker.Unpacker, runner benchmark.TrialRunner) BenchmarkOrchestrator {
	return &suiteOrchestrator{cfg: cfg, unpacker: u, runner: runner, now: time.Now}
}

func (o *suiteOrchestrator) RunSuite(ctx context.Context) (*report.SuiteReport, error) {
	o.checkRuntimeVersion(ctx)

	err := o.unpacker.Fetch(ctx, o.cfg.TargetImage)
	if err != nil {
		return nil, fmt.Errorf("preparing image failed: %w", err)
	}
	// fetched content stays, extracted layers go
	err = o.unpacker.Reset(ctx, o.cfg.TargetImage)
	if err != nil {
		slog.Warn("clearing snapshots after fetch failed", slog.String("error", err.Error()))
	}

	rep := &report.SuiteReport{
		Config: report.BenchmarkConfig{
			TargetImage:   o.cfg.TargetImage,
			NumRuns:       o.cfg.NumRuns,
			Timestamp:     o.now(),
			ContainerName: o.cfg.ContainerName,
			CPULimit:      o.cfg.CPULimit,
			MemoryLimit:   o.cfg.MemoryLimit,
			StatsSource:   o.cfg.StatsSource,
		},
		Runs: make([]report.TrialRecord, 0, o.cfg.NumRuns),
	}

	slog.Info("starting benchmark", slog.String("image", o.cfg.TargetImage), slog.Int("runs", o.cfg.NumRuns), slog.String("container", o.cfg.ContainerName))
	for i := range o.cfg.NumRuns {
		if i > 0 {
			err = sleepCtx(ctx, o.cfg.PauseBetweenRuns)
			if err != nil {
				return nil, fmt.Errorf("benchmark interrupted after %d runs: %w", i, err)
			}
		}
		rep.Runs = append(rep.Runs, o.runner.RunTrial(ctx, i+1))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("benchmark interrupted during run %d: %w", i+1, ctx.Err())
		}
	}

	rep.Summary = report.Summarize(rep.Runs)
	logSummary(rep)
	return rep, nil
}

// checkRuntimeVersion only warns; an unknown or old runtime may still work.
func (o *suiteOrchestrator) checkRuntimeVersion(ctx context.Context) {
	v, err := o.unpacker.Version(ctx)
	if err != nil {
		slog.Warn("can't determine container runtime version", slog.String("error", err.Error()))
		return
	}
	slog.Info("container runtime", slog.String("version", v.String()))
	if !unpacker.IsSupported(v) {
		slog.Warn("The unpack benchmark isn't intended to be ran on containerd versions earlier than " + unpacker.MinimumVersion.String())
	}
}

func logSummary(rep *report.SuiteReport) {
	s := rep.Summary
	slog.Info("finished benchmark",
		slog.Int("successful", s.SuccessfulRuns),
		slog.Int("total", len(rep.Runs)),
		slog.Int("failed", s.FailedRuns))
	if s.SuccessfulRuns == 0 {
		return
	}
	peakCPU, peakMem, totalWrite := report.PeakAcrossRuns(rep.Runs)
	slog.Info("unpack timings",
		slog.String("avg", fmt.Sprintf("%.3fs", s.AvgDurationSeconds)),
		slog.String("range", fmt.Sprintf("%.3fs - %.3fs", s.MinDurationSeconds, s.MaxDurationSeconds)),
		slog.String("peakCPU", fmt.Sprintf("%.1f%%", peakCPU)),
		slog.String("peakMemory", fmt.Sprintf("%.1fMB", peakMem)),
		slog.String("diskWrite", fmt.Sprintf("%.1fMB", totalWrite)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
