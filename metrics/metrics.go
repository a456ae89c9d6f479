package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unpack_bench"

// Metrics exposes live sampler values and trial outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sampleCPUPercent prometheus.Gauge
	sampleMemoryMB   prometheus.Gauge
	sampleWriteMB    prometheus.Gauge
	samplePIDs       prometheus.Gauge
	samplesTotal     prometheus.Counter
	sampleFailures   prometheus.Counter
	trialsTotal      *prometheus.CounterVec
	trialDuration    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sampleCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_cpu_percent", Help: "CPU usage of the monitored container in the latest sample.",
		}),
		sampleMemoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_memory_mb", Help: "Memory in use by the monitored container in the latest sample.",
		}),
		sampleWriteMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_block_write_mb", Help: "Cumulative block IO written by the monitored container in the latest sample.",
		}),
		samplePIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_pids", Help: "Process count of the monitored container in the latest sample.",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_total", Help: "Resource samples collected.",
		}),
		sampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sample_failures_total", Help: "Resource samples dropped because the snapshot source failed.",
		}),
		trialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trials_total", Help: "Unpack trials by result.",
		}, []string{"result"}),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "trial_duration_seconds", Help: "Duration of successful unpack trials.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	reg.MustRegister(
		m.sampleCPUPercent,
		m.sampleMemoryMB,
		m.sampleWriteMB,
		m.samplePIDs,
		m.samplesTotal,
		m.sampleFailures,
		m.trialsTotal,
		m.trialDuration,
	)
	return m
}

func (m *Metrics) ObserveSnapshot(s report.Snapshot) {
	if m == nil {
		return
	}
	m.sampleCPUPercent.Set(s.CPUPercent)
	m.sampleMemoryMB.Set(s.MemoryMB)
	m.sampleWriteMB.Set(s.WriteMB)
	m.samplePIDs.Set(float64(s.PIDs))
	m.samplesTotal.Inc()
}

func (m *Metrics) ObserveSampleFailure() {
	if m == nil {
		return
	}
	m.sampleFailures.Inc()
}

func (m *Metrics) ObserveTrial(r report.TrialRecord) {
	if m == nil {
		return
	}
	if r.Success {
		m.trialsTotal.WithLabelValues("success").Inc()
		m.trialDuration.Observe(r.DurationSeconds)
		return
	}
	m.trialsTotal.WithLabelValues(string(r.Error)).Inc()
}

// TrialsCounter is the trials_total series for one result label. On a nil *Metrics it is a detached counter.
func (m *Metrics) TrialsCounter(result string) prometheus.Counter {
	if m == nil {
		return detachedCounter()
	}
	return m.trialsTotal.WithLabelValues(result)
}

// SampleFailuresCounter counts polls of the snapshot source that failed or timed out.
func (m *Metrics) SampleFailuresCounter() prometheus.Counter {
	if m == nil {
		return detachedCounter()
	}
	return m.sampleFailures
}

func detachedCounter() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "detached"})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("serving metrics", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
