package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/h4x3rotab/docker-unpack-bench/benchmark"
	benchmarkorchestrator "github.com/h4x3rotab/docker-unpack-bench/benchmark_orchestrator"
	"github.com/h4x3rotab/docker-unpack-bench/config"
	"github.com/h4x3rotab/docker-unpack-bench/metrics"
	reportstore "github.com/h4x3rotab/docker-unpack-bench/report_store"
	systemmonitor "github.com/h4x3rotab/docker-unpack-bench/system_monitor"
	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/h4x3rotab/docker-unpack-bench/unpacker"
	"github.com/spf13/cobra"
)

type runArgs struct {
	targetImage   string
	numRuns       int
	outputFile    string
	containerName string
}

func parseRunArgs(args []string) (*runArgs, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("expected 4 arguments, got %d", len(args))
	}
	numRuns, err := strconv.Atoi(args[1])
	if err != nil || numRuns < 1 {
		return nil, fmt.Errorf("num_runs must be a positive integer, got %q", args[1])
	}
	return &runArgs{
		targetImage:   args[0],
		numRuns:       numRuns,
		outputFile:    args[2],
		containerName: args[3],
	}, nil
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <target_image> <num_runs> <output_file> <container_name>",
		Short: "Run an unpack benchmark suite and save the report",
		Long: "Fetches the image once, then unpacks it num_runs times with the extracted snapshots cleared before each " +
			"run, sampling the resource usage of container_name in the background. The report is written to " +
			"output_file, which may be a local path or an s3://bucket/key URL.",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra, err := parseRunArgs(args)
			if err != nil {
				return err
			}
			return runBenchmark(cmd.Context(), a.cfg, ra)
		},
	}
}

func runBenchmark(ctx context.Context, cfg *config.Config, ra *runArgs) error {
	// fail on a bad output location before spending minutes on the suite
	store, err := reportstore.New(ctx, ra.outputFile)
	if err != nil {
		return err
	}

	t, closeTarget, err := newTarget(cfg)
	if err != nil {
		return err
	}
	defer closeTarget()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			err := m.Serve(ctx, cfg.MetricsAddr)
			if err != nil {
				slog.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	source, closeSource, err := newSnapshotSource(ctx, cfg, t, ra.containerName)
	if err != nil {
		return err
	}
	defer closeSource()

	sm := systemmonitor.NewSystemMonitor(source, systemmonitor.Config{
		Interval:       cfg.SampleInterval,
		SampleTimeout:  cfg.SampleTimeout,
		StartupDelay:   cfg.StartupDelay,
		StopTimeout:    cfg.StopTimeout,
		LiveProgress:   cfg.LiveProgress,
		ProgressWriter: os.Stderr,
	}, m)

	pullArgs, err := cfg.Ctr.ExtraPullArgs()
	if err != nil {
		return err
	}
	u := unpacker.NewCtrUnpacker(t, unpacker.CtrOptions{
		Address:      cfg.Ctr.Address,
		Namespace:    cfg.Ctr.Namespace,
		Snapshotter:  cfg.Ctr.Snapshotter,
		PullArgs:     pullArgs,
		FetchTimeout: cfg.FetchTimeout,
	})

	runner := benchmark.NewTrialRunner(benchmark.TrialConfig{
		TargetImage:   ra.targetImage,
		NumRuns:       ra.numRuns,
		UnpackTimeout: cfg.UnpackTimeout,
	}, u, sm, m)

	orch := benchmarkorchestrator.NewSuiteOrchestrator(&benchmarkorchestrator.BenchmarkConfig{
		TargetImage:      ra.targetImage,
		NumRuns:          ra.numRuns,
		ContainerName:    ra.containerName,
		CPULimit:         cfg.CPULimit,
		MemoryLimit:      cfg.MemoryLimit,
		StatsSource:      cfg.StatsSource,
		PauseBetweenRuns: cfg.PauseBetweenRuns,
	}, u, runner)

	rep, err := orch.RunSuite(ctx)
	if err != nil {
		return err
	}

	err = store.Save(ctx, rep)
	if err != nil {
		return err
	}
	slog.Info("results saved", slog.String("location", store.Location()))
	return nil
}

// newTarget returns the SSH target when ssh.host is set and the local machine otherwise.
func newTarget(cfg *config.Config) (target.Target, func(), error) {
	if cfg.SSH.Host == "" {
		return target.NewLocalTarget(), func() {}, nil
	}

	t, err := target.NewSSHTarget(cfg.SSH.User, cfg.SSH.Host, cfg.SSH.Port, cfg.SSH.KeyFile, cfg.SSH.KnownHosts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ssh target: %w", err)
	}
	slog.Info("using ssh target", slog.String("host", cfg.SSH.Host))
	return t, func() {
		if err := t.Close(); err != nil {
			slog.Warn("closing ssh connection failed", slog.String("error", err.Error()))
		}
	}, nil
}

func newSnapshotSource(ctx context.Context, cfg *config.Config, t target.Target, container string) (systemmonitor.SnapshotSource, func(), error) {
	if cfg.StatsSource != config.StatsSourceAPI {
		return systemmonitor.NewCLIStatsSource(t, container), func() {}, nil
	}

	if apiOnOtherHost(cfg, os.Getenv("DOCKER_HOST")) {
		slog.Warn("stats_source api talks to the local docker daemon while ctr runs on the ssh host; set DOCKER_HOST to the same machine",
			slog.String("sshHost", cfg.SSH.Host))
	}
	src, err := systemmonitor.NewDockerStatsSource(container)
	if err != nil {
		return nil, nil, err
	}
	err = src.CheckDaemon(ctx)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, func() { src.Close() }, nil
}

// apiOnOtherHost reports whether the Engine API client would sample a different machine than the one running ctr.
func apiOnOtherHost(cfg *config.Config, dockerHost string) bool {
	return cfg.StatsSource == config.StatsSourceAPI && cfg.SSH.Host != "" && dockerHost == ""
}
