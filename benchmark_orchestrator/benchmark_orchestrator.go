package benchmarkorchestrator

import (
	"context"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/report"
)

type BenchmarkConfig struct {
	TargetImage      string
	NumRuns          int
	ContainerName    string
	CPULimit         string // echoed into the report only
	MemoryLimit      string // echoed into the report only
	StatsSource      string
	PauseBetweenRuns time.Duration
}

// Runs an unpack benchmark suite against one container runtime.
type BenchmarkOrchestrator interface {
	// Fetch the image, run every trial in order and return the report. Only a failed fetch or a cancelled
	// context is an error; failed trials are part of the report.
	RunSuite(ctx context.Context) (*report.SuiteReport, error)
}
