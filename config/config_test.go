package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 5*time.Second, cfg.SampleTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.StartupDelay)
	assert.Equal(t, 2*time.Second, cfg.StopTimeout)
	assert.Equal(t, 300*time.Second, cfg.UnpackTimeout)
	assert.Equal(t, 600*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2*time.Second, cfg.PauseBetweenRuns)
	assert.Equal(t, StatsSourceCLI, cfg.StatsSource)
	assert.True(t, cfg.LiveProgress)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "default", cfg.Ctr.Namespace)
	assert.Empty(t, cfg.SSH.Host)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 4, cfg.Export.Concurrency)
	assert.Equal(t, "tmp/results", cfg.Export.ResultsDir)
	assert.False(t, cfg.Export.Remote)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("UNPACKBENCH_LOG_LEVEL", "debug")
	t.Setenv("UNPACKBENCH_SAMPLE_INTERVAL", "250ms")
	t.Setenv("UNPACKBENCH_UNPACK_TIMEOUT", "10m")
	t.Setenv("UNPACKBENCH_STATS_SOURCE", "api")
	t.Setenv("UNPACKBENCH_LIVE_PROGRESS", "false")
	t.Setenv("UNPACKBENCH_METRICS_ADDR", ":9102")
	t.Setenv("UNPACKBENCH_CPU_LIMIT", "2")
	t.Setenv("UNPACKBENCH_CTR_NAMESPACE", "k8s.io")
	t.Setenv("UNPACKBENCH_CTR_PULL_ARGS", `--platform linux/arm64 --user "a b"`)
	t.Setenv("UNPACKBENCH_SSH_HOST", "10.0.0.5")
	t.Setenv("UNPACKBENCH_SSH_PORT", "2222")
	t.Setenv("UNPACKBENCH_EXPORT_CONCURRENCY", "8")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	assert.Equal(t, 250*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 10*time.Minute, cfg.UnpackTimeout)
	assert.Equal(t, StatsSourceAPI, cfg.StatsSource)
	assert.False(t, cfg.LiveProgress)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, "2", cfg.CPULimit)
	assert.Equal(t, "k8s.io", cfg.Ctr.Namespace)
	assert.Equal(t, "10.0.0.5", cfg.SSH.Host)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, 8, cfg.Export.Concurrency)

	args, err := cfg.Ctr.ExtraPullArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"--platform", "linux/arm64", "--user", "a b"}, args)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unpack-bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sample_interval: 50ms
pause_between_runs: 0s
ctr:
  snapshotter: overlayfs
`), 0o644))
	t.Setenv("UNPACKBENCH_CTR_SNAPSHOTTER", "native")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, time.Duration(0), cfg.PauseBetweenRuns)
	// env wins over the file
	assert.Equal(t, "native", cfg.Ctr.Snapshotter)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("log-level", "info", "")
	flags.String("stats-source", "cli", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "warn"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, StatsSourceCLI, cfg.StatsSource)
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"UNPACKBENCH_LOG_LEVEL":          "loud",
		"UNPACKBENCH_SAMPLE_INTERVAL":    "0s",
		"UNPACKBENCH_SAMPLE_TIMEOUT":     "-1s",
		"UNPACKBENCH_STOP_TIMEOUT":       "0",
		"UNPACKBENCH_UNPACK_TIMEOUT":     "0s",
		"UNPACKBENCH_FETCH_TIMEOUT":      "0s",
		"UNPACKBENCH_STARTUP_DELAY":      "-5ms",
		"UNPACKBENCH_PAUSE_BETWEEN_RUNS": "-1s",
		"UNPACKBENCH_STATS_SOURCE":       "proc",
		"UNPACKBENCH_SSH_PORT":           "70000",
		"UNPACKBENCH_EXPORT_CONCURRENCY": "0",
		"UNPACKBENCH_CTR_PULL_ARGS":      `--label "unterminated`,
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}
