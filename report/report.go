package report

import "time"

// RawStats is one `docker stats --format json` record. Values are the human-readable strings docker prints.
type RawStats struct {
	BlockIO   string `json:"BlockIO"`
	CPUPerc   string `json:"CPUPerc"`
	Container string `json:"Container"`
	ID        string `json:"ID"`
	MemPerc   string `json:"MemPerc"`
	MemUsage  string `json:"MemUsage"`
	Name      string `json:"Name"`
	NetIO     string `json:"NetIO"`
	PIDs      string `json:"PIDs"`
}

// Snapshot is one normalized observation of the container's resource usage.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemUsage   string    `json:"mem_usage"`
	MemoryMB   float64   `json:"memory_mb"`
	BlockIO    string    `json:"block_io"`
	ReadMB     float64   `json:"read_mb"`
	WriteMB    float64   `json:"write_mb"`
	NetIO      string    `json:"net_io"`
	NetRxMB    float64   `json:"net_rx_mb"`
	NetTxMB    float64   `json:"net_tx_mb"`
	PIDs       int       `json:"pids"`
}

type PeakMetrics struct {
	CPUPeakPercent      float64 `json:"cpu_peak_percent"`
	CPUAvgPercent       float64 `json:"cpu_avg_percent"`
	MemoryPeakMB        float64 `json:"memory_peak_mb"`
	MemoryAvgMB         float64 `json:"memory_avg_mb"`
	PIDPeakCount        int     `json:"pid_peak_count"`
	BlockIOReadPeakMB   float64 `json:"block_io_read_peak_mb"`
	BlockIOWritePeakMB  float64 `json:"block_io_write_peak_mb"`
	BlockIOTotalWriteMB float64 `json:"block_io_total_write_mb"` // last sample, docker reports cumulative counters
	NetIORxMB           float64 `json:"net_io_rx_mb"`
	NetIOTxMB           float64 `json:"net_io_tx_mb"`
	SamplesCollected    int     `json:"samples_collected"`
}

type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorTimeout     ErrorKind = "timeout"
	ErrorNonZeroExit ErrorKind = "nonzero_exit"
)

type TrialRecord struct {
	RunID            int         `json:"run_id"`
	Success          bool        `json:"success"`
	DurationSeconds  float64     `json:"duration_seconds"`
	TargetImage      string      `json:"target_image"`
	PeakMetrics      PeakMetrics `json:"peak_metrics"`
	RawStatsCount    int         `json:"raw_stats_count"`
	ContainerdStdout string      `json:"containerd_stdout"`
	ContainerdStderr string      `json:"containerd_stderr"` // empty on success
	Error            ErrorKind   `json:"error,omitempty"`
	ExitCode         int         `json:"exit_code"`
}

type BenchmarkConfig struct {
	TargetImage   string    `json:"target_image"`
	NumRuns       int       `json:"num_runs"`
	Timestamp     time.Time `json:"timestamp"`
	ContainerName string    `json:"container_name"`
	CPULimit      string    `json:"cpu_limit"`
	MemoryLimit   string    `json:"memory_limit"`
	StatsSource   string    `json:"stats_source"`
}

type Summary struct {
	SuccessfulRuns     int     `json:"successful_runs"`
	FailedRuns         int     `json:"failed_runs"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
	MaxDurationSeconds float64 `json:"max_duration_seconds"`
}

// SuiteReport is everything one suite run produces. It is persisted once and never changed afterwards.
type SuiteReport struct {
	Config  BenchmarkConfig `json:"benchmark_config"`
	Summary Summary         `json:"summary"`
	Runs    []TrialRecord   `json:"runs"`
}
