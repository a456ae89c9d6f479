package systemmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/report"
	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/h4x3rotab/docker-unpack-bench/util"
)

// SnapshotSource returns one resource usage observation of the monitored container.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*report.RawStats, error)
}

var errEmptyStats = errors.New("empty stats output")

type cliStatsSource struct {
	target    target.Target
	container string
}

// NewCLIStatsSource samples with `docker stats --no-stream` on the target.
func NewCLIStatsSource(t target.Target, container string) SnapshotSource {
	return &cliStatsSource{target: t, container: container}
}

func (s *cliStatsSource) Snapshot(ctx context.Context) (*report.RawStats, error) {
	res, err := s.target.RunCommand(ctx, "docker", "stats", s.container, "--format", "json", "--no-stream")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("docker stats exited with status %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return DecodeRawStats(res.Stdout)
}

// DecodeRawStats decodes the JSON record printed by `docker stats --format json`.
func DecodeRawStats(out []byte) (*report.RawStats, error) {
	line := strings.TrimSpace(util.LastNonEmptyLine(out))
	if line == "" {
		return nil, errEmptyStats
	}

	raw := &report.RawStats{}
	err := json.Unmarshal([]byte(line), raw)
	if err != nil {
		return nil, fmt.Errorf("decoding stats failed: %w", err)
	}
	if raw.CPUPerc == "" && raw.MemUsage == "" && raw.BlockIO == "" && raw.NetIO == "" && raw.PIDs == "" {
		return nil, errEmptyStats
	}
	return raw, nil
}

// ParseSnapshot normalizes a raw record. Fields that cannot be parsed are 0.
func ParseSnapshot(raw *report.RawStats, now time.Time) report.Snapshot {
	s := report.Snapshot{
		Timestamp:  now,
		CPUPercent: util.ParsePercent(raw.CPUPerc),
		MemUsage:   raw.MemUsage,
		BlockIO:    raw.BlockIO,
		NetIO:      raw.NetIO,
	}

	if used, _, ok := util.SplitPair(raw.MemUsage); ok {
		s.MemoryMB = util.ParseSizeMB(used)
	}
	if read, write, ok := util.SplitPair(raw.BlockIO); ok {
		s.ReadMB = util.ParseSizeMB(read)
		s.WriteMB = util.ParseSizeMB(write)
	}
	if rx, tx, ok := util.SplitPair(raw.NetIO); ok {
		s.NetRxMB = util.ParseSizeMB(rx)
		s.NetTxMB = util.ParseSizeMB(tx)
	}
	if pids, err := strconv.Atoi(strings.TrimSpace(raw.PIDs)); err == nil {
		s.PIDs = pids
	}
	return s
}
