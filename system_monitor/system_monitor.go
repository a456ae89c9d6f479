package systemmonitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/metrics"
	"github.com/h4x3rotab/docker-unpack-bench/report"
)

type SystemMonitor interface {
	// Clears prior samples, starts sampling in the background and waits the startup delay so at least one sample
	// can land before the caller starts the measured operation.
	StartMonitoring(ctx context.Context)

	// Stops sampling and returns a copy of the samples collected since StartMonitoring. Waits at most the stop
	// timeout for the sampling goroutine; one that does not exit in time is abandoned.
	StopMonitoring() []report.Snapshot
}

type Config struct {
	Interval       time.Duration // pause after every poll
	SampleTimeout  time.Duration // bound on a single poll of the snapshot source
	StartupDelay   time.Duration
	StopTimeout    time.Duration
	LiveProgress   bool
	ProgressWriter io.Writer // stderr when nil
}

type systemMonitor struct {
	source  SnapshotSource
	cfg     Config
	metrics *metrics.Metrics
	run     *monitorRun
}

// monitorRun is the state of one StartMonitoring/StopMonitoring cycle. Each cycle gets a fresh one so a goroutine
// abandoned by StopMonitoring can never write into a later cycle's samples.
type monitorRun struct {
	cancel   context.CancelFunc
	done     chan struct{}
	progress *liveProgress

	mu      sync.Mutex
	samples []report.Snapshot
	closed  bool
}

func NewSystemMonitor(source SnapshotSource, cfg Config, m *metrics.Metrics) SystemMonitor {
	return &systemMonitor{source: source, cfg: cfg, metrics: m}
}

func (mon *systemMonitor) StartMonitoring(ctx context.Context) {
	if mon.run != nil {
		slog.Warn("SystemMonitor: started while running, discarding previous samples")
		mon.StopMonitoring()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &monitorRun{
		cancel:  cancel,
		done:    make(chan struct{}),
		samples: []report.Snapshot{},
	}
	if mon.cfg.LiveProgress {
		w := mon.cfg.ProgressWriter
		if w == nil {
			w = os.Stderr
		}
		run.progress = newLiveProgress(w)
	}
	mon.run = run

	go mon.runMonitor(runCtx, run)

	select {
	case <-time.After(mon.cfg.StartupDelay):
	case <-ctx.Done():
	}
}

func (mon *systemMonitor) StopMonitoring() []report.Snapshot {
	run := mon.run
	if run == nil {
		return []report.Snapshot{}
	}
	mon.run = nil

	run.cancel()
	select {
	case <-run.done:
	case <-time.After(mon.cfg.StopTimeout):
		slog.Warn("SystemMonitor: sampler did not stop in time, abandoning it", slog.Duration("stopTimeout", mon.cfg.StopTimeout))
	}

	samples := run.close()
	run.progress.finish()
	slog.Debug("SystemMonitor: stopped", slog.Int("samples", len(samples)))
	return samples
}

func (mon *systemMonitor) runMonitor(ctx context.Context, run *monitorRun) {
	defer close(run.done)
	for {
		if ctx.Err() != nil {
			return
		}

		mon.sample(ctx, run)

		select {
		case <-ctx.Done():
			return
		case <-time.After(mon.cfg.Interval):
		}
	}
}

func (mon *systemMonitor) sample(ctx context.Context, run *monitorRun) {
	pollCtx, cancel := context.WithTimeout(ctx, mon.cfg.SampleTimeout)
	raw, err := mon.source.Snapshot(pollCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("SystemMonitor: dropped sample", slog.String("error", err.Error()))
			mon.metrics.ObserveSampleFailure()
		}
		return
	}

	snap := ParseSnapshot(raw, time.Now())
	count, ok := run.append(snap)
	if !ok {
		return
	}
	mon.metrics.ObserveSnapshot(snap)
	// refresh the readout about once a second at the default interval
	if count%10 == 0 {
		run.progress.update(snap)
	}
}

func (run *monitorRun) append(snap report.Snapshot) (int, bool) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.closed {
		return 0, false
	}
	run.samples = append(run.samples, snap)
	return len(run.samples), true
}

// close stops accepting samples and returns a copy of what was collected.
func (run *monitorRun) close() []report.Snapshot {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.closed = true
	out := make([]report.Snapshot, len(run.samples))
	copy(out, run.samples)
	return out
}
