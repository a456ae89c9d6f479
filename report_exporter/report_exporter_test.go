package reportexporter

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nginxReport = `{
  "benchmark_config": {"target_image": "docker.io/library/nginx:latest", "num_runs": 3, "timestamp": "2025-06-01T12:00:00Z", "cpu_limit": "2", "memory_limit": "4g"},
  "summary": {"successful_runs": 2, "failed_runs": 1, "avg_duration_seconds": 15, "min_duration_seconds": 10, "max_duration_seconds": 20},
  "runs": [
    {"run_id": 1, "success": true, "peak_metrics": {"cpu_peak_percent": 80, "cpu_avg_percent": 40, "memory_peak_mb": 150.5, "memory_avg_mb": 100, "block_io_total_write_mb": 60}},
    {"run_id": 2, "success": true, "peak_metrics": {"cpu_peak_percent": 90, "cpu_avg_percent": 50, "memory_peak_mb": 120, "memory_avg_mb": 80, "block_io_total_write_mb": 55}},
    {"run_id": 3, "success": false, "error": "timeout", "peak_metrics": {"cpu_peak_percent": 99, "memory_peak_mb": 999, "block_io_total_write_mb": 999}}
  ]
}`

// older layout: no limits recorded, numbers written as strings
const redisReport = `{
  "benchmark_config": {"target_image": "docker.io/library/redis:7", "num_runs": "1", "timestamp": "2025-05-01T08:30:00Z"},
  "summary": {"successful_runs": 1, "failed_runs": 0, "avg_duration_seconds": 2.5, "min_duration_seconds": 2.5, "max_duration_seconds": "2.5"},
  "runs": [
    {"run_id": 1, "success": true, "peak_metrics": {"cpu_peak_percent": 12.5, "cpu_avg_percent": "12.5", "memory_peak_mb": 20, "memory_avg_mb": 20, "block_io_total_write_mb": 7.25}}
  ]
}`

const allFailedReport = `{
  "benchmark_config": {"target_image": "busybox", "num_runs": 2},
  "summary": {"successful_runs": 0, "failed_runs": 2},
  "runs": [{"run_id": 1, "success": false}, {"run_id": 2, "success": false}]
}`

func writeReport(t *testing.T, dir, name, content string, age time.Duration) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

func newExporter(diag *bytes.Buffer) *Exporter {
	return &Exporter{Target: target.NewLocalTarget(), Concurrency: 4, Diagnostics: diag}
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "benchmark_redis.json", redisReport, 3*time.Hour)
	writeReport(t, dir, "benchmark_broken.json", "{not json", 2*time.Hour)
	writeReport(t, dir, "benchmark_allfailed.json", allFailedReport, 90*time.Minute)
	writeReport(t, dir, "benchmark_nginx_20250601.json", nginxReport, time.Hour)
	writeReport(t, dir, "notes.txt", "not a report", 0)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "benchmark_dir.json"), 0o755))

	var out, diag bytes.Buffer
	require.NoError(t, newExporter(&diag).Export(context.Background(), dir, &out))

	want := strings.Join([]string{
		"metric,nginx_20250601,redis",
		"timestamp,2025-06-01T12:00:00Z,2025-05-01T08:30:00Z",
		"target_image,docker.io/library/nginx:latest,docker.io/library/redis:7",
		"num_runs,3,1",
		"cpu_limit,2,0",
		"memory_limit,4g,0",
		"successful_runs,2,1",
		"failed_runs,1,0",
		"avg_duration_seconds,15,2.5",
		"min_duration_seconds,10,2.5",
		"max_duration_seconds,20,2.5",
		"peak_cpu_percent,90,12.5",
		"avg_cpu_percent,45,12.5",
		"peak_memory_mb,150.5,20",
		"avg_memory_mb,90,20",
		"total_disk_write_mb,60,7.25",
		"filename,benchmark_nginx_20250601.json,benchmark_redis.json",
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())

	assert.Contains(t, diag.String(), "Error processing "+filepath.Join(dir, "benchmark_broken.json"))
	assert.Contains(t, diag.String(), "Skipping "+filepath.Join(dir, "benchmark_allfailed.json")+": no successful runs")
	assert.NotContains(t, diag.String(), "redis")
	assert.NotContains(t, diag.String(), "notes.txt")
}

func TestExportOneValidOneInvalid(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "benchmark_good.json", nginxReport, time.Hour)
	writeReport(t, dir, "benchmark_empty.json", "", 0)

	var out, diag bytes.Buffer
	require.NoError(t, newExporter(&diag).Export(context.Background(), dir, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(Metrics)+1)
	assert.Equal(t, "metric,good", lines[0])
	for i, metric := range Metrics {
		assert.True(t, strings.HasPrefix(lines[i+1], metric+","), lines[i+1])
		assert.Equal(t, 1, strings.Count(lines[i+1], ","), lines[i+1])
	}
	assert.Contains(t, diag.String(), "benchmark_empty.json")
}

func TestExportMissingDirectory(t *testing.T) {
	var out bytes.Buffer
	err := newExporter(nil).Export(context.Background(), filepath.Join(t.TempDir(), "nope"), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, out.String())
}

func TestExportNoMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "results.json", nginxReport, 0)

	err := newExporter(nil).Export(context.Background(), dir, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoReports)
}

func TestExportNoValidReports(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "benchmark_a.json", "[]", 0)
	writeReport(t, dir, "benchmark_b.json", allFailedReport, 0)
	writeReport(t, dir, "benchmark_c.json", "null", 0)
	writeReport(t, dir, "benchmark_d.json", `{"runs": "not a list"}`, 0)

	var out, diag bytes.Buffer
	err := newExporter(&diag).Export(context.Background(), dir, &out)
	assert.ErrorIs(t, err, ErrNoValidReports)
	assert.Empty(t, out.String())
	for _, name := range []string{"benchmark_a.json", "benchmark_b.json", "benchmark_c.json", "benchmark_d.json"} {
		assert.Contains(t, diag.String(), name)
	}
}

func TestExportCancelled(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "benchmark_good.json", nginxReport, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newExporter(nil).Export(ctx, dir, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeReportDefaults(t *testing.T) {
	doc, err := decodeReport([]byte(`{"benchmark_config": null, "runs": [{"success": "true"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "0", doc.Config.CPULimit)
	assert.Equal(t, "0", doc.Config.MemoryLimit)
	require.Len(t, doc.Runs, 1)
	assert.True(t, doc.Runs[0].Success)

	s, err := extractStats(doc, "benchmark_x.json")
	require.NoError(t, err)
	assert.Zero(t, s.peakCPUPercent)
	assert.Equal(t, "x", columnName(s.filename))
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "nginx_20250601", columnName("benchmark_nginx_20250601.json"))
	assert.Equal(t, "custom", columnName("custom"))
}
