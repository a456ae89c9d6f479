package reportexporter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alitto/pond"
	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/mitchellh/mapstructure"
)

const (
	DefaultResultsDir = "tmp/results"
	reportPattern     = "benchmark_*.json"
)

var (
	ErrNoReports      = errors.New("no benchmark files found")
	ErrNoValidReports = errors.New("no valid benchmark data found")
	errNoSuccessful   = errors.New("no successful runs")
)

// Rows of the exported table, in order.
var Metrics = []string{
	"timestamp",
	"target_image",
	"num_runs",
	"cpu_limit",
	"memory_limit",
	"successful_runs",
	"failed_runs",
	"avg_duration_seconds",
	"min_duration_seconds",
	"max_duration_seconds",
	"peak_cpu_percent",
	"avg_cpu_percent",
	"peak_memory_mb",
	"avg_memory_mb",
	"total_disk_write_mb",
	"filename",
}

type Exporter struct {
	Target      target.Target
	Concurrency int       // parallel file parses, 1 when unset
	Diagnostics io.Writer // skipped-file messages, discarded when nil
}

// Export writes a CSV with one row per metric and one column per valid report in dir, newest report first.
func (e *Exporter) Export(ctx context.Context, dir string, out io.Writer) error {
	files, err := e.findReports(dir)
	if err != nil {
		return err
	}

	stats := e.parseAll(ctx, dir, files)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	valid := make([]*reportStats, 0, len(stats))
	for _, s := range stats {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return ErrNoValidReports
	}
	slog.Debug("exporting reports", slog.Int("valid", len(valid)), slog.Int("found", len(files)))
	return writeTable(out, valid)
}

// findReports lists report files in dir sorted by modification time, newest first.
func (e *Exporter) findReports(dir string) ([]fs.FileInfo, error) {
	entries, err := e.Target.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("results directory '%s' not found: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to read results directory '%s': %w", dir, err)
	}

	files := []fs.FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := path.Match(reportPattern, entry.Name()); ok {
			files = append(files, entry)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoReports, dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime().After(files[j].ModTime())
	})
	return files, nil
}

// parseAll parses files on a bounded pool. The result keeps the order of files; skipped files are nil.
func (e *Exporter) parseAll(ctx context.Context, dir string, files []fs.FileInfo) []*reportStats {
	workers := max(e.Concurrency, 1)
	pool := pond.New(workers, len(files), pond.MinWorkers(workers))

	results := make([]*reportStats, len(files))
	errs := make([]error, len(files))
	for i, f := range files {
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			results[i], errs[i] = e.parseFile(path.Join(dir, f.Name()))
		})
	}
	pool.StopAndWait()

	// diagnostics in file order, after the pool so they never interleave
	for i, err := range errs {
		if err == nil {
			continue
		}
		p := path.Join(dir, files[i].Name())
		if errors.Is(err, errNoSuccessful) {
			e.diagf("Skipping %s: %v\n", p, err)
		} else {
			e.diagf("Error processing %s: %v\n", p, err)
		}
	}
	return results
}

func (e *Exporter) parseFile(p string) (*reportStats, error) {
	buf, err := e.Target.ReadFile(p)
	if err != nil {
		return nil, err
	}
	doc, err := decodeReport(buf)
	if err != nil {
		return nil, err
	}
	return extractStats(doc, path.Base(p))
}

func (e *Exporter) diagf(format string, args ...any) {
	if e.Diagnostics == nil {
		return
	}
	fmt.Fprintf(e.Diagnostics, format, args...)
}

// exportedReport is the lenient view of a persisted suite report. Absent keys keep their zero (or preset) values
// and numbers stored as strings are accepted.
type exportedReport struct {
	Config struct {
		Timestamp   string `mapstructure:"timestamp"`
		TargetImage string `mapstructure:"target_image"`
		NumRuns     int    `mapstructure:"num_runs"`
		CPULimit    string `mapstructure:"cpu_limit"`
		MemoryLimit string `mapstructure:"memory_limit"`
	} `mapstructure:"benchmark_config"`
	Summary struct {
		SuccessfulRuns     int     `mapstructure:"successful_runs"`
		FailedRuns         int     `mapstructure:"failed_runs"`
		AvgDurationSeconds float64 `mapstructure:"avg_duration_seconds"`
		MinDurationSeconds float64 `mapstructure:"min_duration_seconds"`
		MaxDurationSeconds float64 `mapstructure:"max_duration_seconds"`
	} `mapstructure:"summary"`
	Runs []struct {
		Success     bool `mapstructure:"success"`
		PeakMetrics struct {
			CPUPeakPercent      float64 `mapstructure:"cpu_peak_percent"`
			CPUAvgPercent       float64 `mapstructure:"cpu_avg_percent"`
			MemoryPeakMB        float64 `mapstructure:"memory_peak_mb"`
			MemoryAvgMB         float64 `mapstructure:"memory_avg_mb"`
			BlockIOTotalWriteMB float64 `mapstructure:"block_io_total_write_mb"`
		} `mapstructure:"peak_metrics"`
	} `mapstructure:"runs"`
}

func decodeReport(buf []byte) (*exportedReport, error) {
	var raw map[string]any
	err := json.Unmarshal(buf, &raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("report is empty")
	}

	doc := &exportedReport{}
	doc.Config.CPULimit = "0"
	doc.Config.MemoryLimit = "0"
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           doc,
	})
	if err != nil {
		return nil, err
	}
	err = dec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("unexpected report layout: %w", err)
	}
	return doc, nil
}

type reportStats struct {
	timestamp          string
	targetImage        string
	numRuns            int
	cpuLimit           string
	memoryLimit        string
	successfulRuns     int
	failedRuns         int
	avgDurationSeconds float64
	minDurationSeconds float64
	maxDurationSeconds float64
	peakCPUPercent     float64
	avgCPUPercent      float64
	peakMemoryMB       float64
	avgMemoryMB        float64
	totalDiskWriteMB   float64
	filename           string
}

// extractStats projects a report onto the exported metrics. Peaks are maxima over successful runs and averages
// are means of the per-run averages.
func extractStats(doc *exportedReport, filename string) (*reportStats, error) {
	s := &reportStats{
		timestamp:          doc.Config.Timestamp,
		targetImage:        doc.Config.TargetImage,
		numRuns:            doc.Config.NumRuns,
		cpuLimit:           doc.Config.CPULimit,
		memoryLimit:        doc.Config.MemoryLimit,
		successfulRuns:     doc.Summary.SuccessfulRuns,
		failedRuns:         doc.Summary.FailedRuns,
		avgDurationSeconds: doc.Summary.AvgDurationSeconds,
		minDurationSeconds: doc.Summary.MinDurationSeconds,
		maxDurationSeconds: doc.Summary.MaxDurationSeconds,
		filename:           filename,
	}

	n := 0
	var cpuSum, memSum float64
	for _, r := range doc.Runs {
		if !r.Success {
			continue
		}
		pm := r.PeakMetrics
		s.peakCPUPercent = max(s.peakCPUPercent, pm.CPUPeakPercent)
		s.peakMemoryMB = max(s.peakMemoryMB, pm.MemoryPeakMB)
		s.totalDiskWriteMB = max(s.totalDiskWriteMB, pm.BlockIOTotalWriteMB)
		cpuSum += pm.CPUAvgPercent
		memSum += pm.MemoryAvgMB
		n++
	}
	if n == 0 {
		return nil, errNoSuccessful
	}
	s.avgCPUPercent = cpuSum / float64(n)
	s.avgMemoryMB = memSum / float64(n)
	return s, nil
}

func (s *reportStats) values() []string {
	return []string{
		s.timestamp,
		s.targetImage,
		strconv.Itoa(s.numRuns),
		s.cpuLimit,
		s.memoryLimit,
		strconv.Itoa(s.successfulRuns),
		strconv.Itoa(s.failedRuns),
		formatFloat(s.avgDurationSeconds),
		formatFloat(s.minDurationSeconds),
		formatFloat(s.maxDurationSeconds),
		formatFloat(s.peakCPUPercent),
		formatFloat(s.avgCPUPercent),
		formatFloat(s.peakMemoryMB),
		formatFloat(s.avgMemoryMB),
		formatFloat(s.totalDiskWriteMB),
		s.filename,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func columnName(filename string) string {
	return strings.TrimSuffix(strings.TrimPrefix(filename, "benchmark_"), ".json")
}

// writeTable writes the transposed table: a header of report names, then one row per metric.
func writeTable(out io.Writer, stats []*reportStats) error {
	w := csv.NewWriter(out)

	header := make([]string, 0, len(stats)+1)
	header = append(header, "metric")
	columns := make([][]string, len(stats))
	for i, s := range stats {
		header = append(header, columnName(s.filename))
		columns[i] = s.values()
	}
	err := w.Write(header)
	if err != nil {
		return err
	}

	for row, metric := range Metrics {
		record := make([]string, 0, len(stats)+1)
		record = append(record, metric)
		for _, col := range columns {
			record = append(record, col[row])
		}
		err = w.Write(record)
		if err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
