package benchmark

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/metrics"
	"github.com/h4x3rotab/docker-unpack-bench/report"
	systemmonitor "github.com/h4x3rotab/docker-unpack-bench/system_monitor"
	"github.com/h4x3rotab/docker-unpack-bench/unpacker"
)

// Runs one measured unpack. Implemented by NewTrialRunner.
type TrialRunner interface {
	// Reset, unpack under the monitor and package the outcome. Never fails: every problem is recorded in the
	// returned record.
	RunTrial(ctx context.Context, runID int) report.TrialRecord
}

type TrialConfig struct {
	TargetImage   string
	NumRuns       int // only used in progress logs
	UnpackTimeout time.Duration
}

type trialRunner struct {
	cfg      TrialConfig
	unpacker unpacker.Unpacker
	sm       systemmonitor.SystemMonitor
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewTrialRunner(cfg TrialConfig, u unpacker.Unpacker, sm systemmonitor.SystemMonitor, m *metrics.Metrics) TrialRunner {
	if cfg.UnpackTimeout <= 0 {
		cfg.UnpackTimeout = 300 * time.Second
	}
	return &trialRunner{cfg: cfg, unpacker: u, sm: sm, metrics: m, now: time.Now}
}

func (tr *trialRunner) RunTrial(ctx context.Context, runID int) report.TrialRecord {
	log := slog.With(slog.Int("run", runID), slog.Int("of", tr.cfg.NumRuns))

	log.Info("preparing run")
	err := tr.unpacker.Reset(ctx, tr.cfg.TargetImage)
	if err != nil {
		log.Warn("resetting unpacked state failed", slog.String("error", err.Error()))
	}

	tr.sm.StartMonitoring(ctx)

	log.Info("unpacking", slog.String("image", tr.cfg.TargetImage))
	unpackCtx, cancel := context.WithTimeout(ctx, tr.cfg.UnpackTimeout)
	start := tr.now()
	res, err := tr.unpacker.Unpack(unpackCtx, tr.cfg.TargetImage)
	end := tr.now()
	timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	samples := tr.sm.StopMonitoring()

	rec := report.TrialRecord{
		RunID:           runID,
		TargetImage:     tr.cfg.TargetImage,
		DurationSeconds: end.Sub(start).Seconds(),
		PeakMetrics:     report.Aggregate(samples),
		RawStatsCount:   len(samples),
	}

	switch {
	case timedOut:
		rec.Error = report.ErrorTimeout
		rec.ExitCode = -1
		rec.DurationSeconds = tr.cfg.UnpackTimeout.Seconds()
		log.Warn("unpack timed out", slog.Duration("timeout", tr.cfg.UnpackTimeout))
	case err != nil:
		rec.Error = report.ErrorNonZeroExit
		rec.ExitCode = -1
		rec.ContainerdStderr = err.Error()
		log.Error("unpack failed to run", slog.String("error", err.Error()))
	case res.ExitCode != 0:
		rec.Error = report.ErrorNonZeroExit
		rec.ExitCode = res.ExitCode
		rec.ContainerdStdout = string(res.Stdout)
		rec.ContainerdStderr = string(res.Stderr)
		log.Error("unpack failed", slog.Float64("durationSeconds", rec.DurationSeconds), slog.Int("exitCode", res.ExitCode), slog.String("stderr", string(res.Stderr)))
	default:
		rec.Success = true
		rec.ContainerdStdout = string(res.Stdout)
		log.Info("unpacked", slog.Float64("durationSeconds", rec.DurationSeconds), slog.Int("samples", len(samples)))
	}

	tr.metrics.ObserveTrial(rec)
	return rec
}
