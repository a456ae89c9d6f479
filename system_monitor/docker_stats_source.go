package systemmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	units "github.com/docker/go-units"
	"github.com/h4x3rotab/docker-unpack-bench/report"
)

// DockerAPI is the subset of the Docker Engine API the stats source uses.
type DockerAPI interface {
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	Close() error
}

type DockerStatsSource struct {
	api       DockerAPI
	container string
}

// NewDockerStatsSource samples through the Docker Engine API configured by the DOCKER_* environment.
func NewDockerStatsSource(container string) (*DockerStatsSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerStatsSource(cli, container), nil
}

func newDockerStatsSource(api DockerAPI, container string) *DockerStatsSource {
	return &DockerStatsSource{api: api, container: container}
}

// CheckDaemon verifies the daemon is reachable.
func (s *DockerStatsSource) CheckDaemon(ctx context.Context) error {
	v, err := s.api.ServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	slog.Debug("docker daemon reachable", slog.String("version", v.Version), slog.String("apiVersion", v.APIVersion))
	return nil
}

func (s *DockerStatsSource) Close() error {
	return s.api.Close()
}

// Snapshot asks for a single non-streamed stats record. The daemon fills in the previous CPU reading itself, so the
// CPU percentage matches `docker stats --no-stream`.
func (s *DockerStatsSource) Snapshot(ctx context.Context) (*report.RawStats, error) {
	resp, err := s.api.ContainerStats(ctx, s.container, false)
	if err != nil {
		return nil, fmt.Errorf("getting container stats failed: %w", err)
	}
	defer resp.Body.Close()

	var st container.StatsResponse
	err = json.NewDecoder(resp.Body).Decode(&st)
	if err != nil {
		return nil, fmt.Errorf("decoding container stats failed: %w", err)
	}
	return renderStats(s.container, &st), nil
}

// renderStats formats a stats record the way the docker CLI prints it.
func renderStats(name string, st *container.StatsResponse) *report.RawStats {
	mem := memoryUsageNoCache(st.MemoryStats)
	limit := float64(st.MemoryStats.Limit)
	memPercent := 0.0
	if limit > 0 {
		memPercent = mem / limit * 100
	}
	blkRead, blkWrite := blockIO(st.BlkioStats)
	rx, tx := networkIO(st.Networks)

	return &report.RawStats{
		BlockIO:   units.HumanSizeWithPrecision(blkRead, 3) + " / " + units.HumanSizeWithPrecision(blkWrite, 3),
		CPUPerc:   fmt.Sprintf("%.2f%%", cpuPercent(st)),
		Container: name,
		ID:        st.ID,
		MemPerc:   fmt.Sprintf("%.2f%%", memPercent),
		MemUsage:  units.BytesSize(mem) + " / " + units.BytesSize(limit),
		Name:      strings.TrimPrefix(st.Name, "/"),
		NetIO:     units.HumanSizeWithPrecision(rx, 3) + " / " + units.HumanSizeWithPrecision(tx, 3),
		PIDs:      strconv.FormatUint(st.PidsStats.Current, 10),
	}
}

func cpuPercent(st *container.StatsResponse) float64 {
	cpuDelta := float64(st.CPUStats.CPUUsage.TotalUsage) - float64(st.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(st.CPUStats.SystemUsage) - float64(st.PreCPUStats.SystemUsage)
	onlineCPUs := float64(st.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(st.CPUStats.CPUUsage.PercpuUsage))
	}
	if systemDelta > 0 && cpuDelta > 0 {
		return cpuDelta / systemDelta * onlineCPUs * 100
	}
	return 0
}

// memoryUsageNoCache subtracts the page cache like the docker CLI (cgroup v1 and v2 keys).
func memoryUsageNoCache(mem container.MemoryStats) float64 {
	if v, ok := mem.Stats["total_inactive_file"]; ok && v < mem.Usage {
		return float64(mem.Usage - v)
	}
	if v, ok := mem.Stats["inactive_file"]; ok && v < mem.Usage {
		return float64(mem.Usage - v)
	}
	return float64(mem.Usage)
}

func blockIO(blkio container.BlkioStats) (float64, float64) {
	var read, write uint64
	for _, entry := range blkio.IoServiceBytesRecursive {
		if entry.Op == "" {
			continue
		}
		switch entry.Op[0] {
		case 'r', 'R':
			read += entry.Value
		case 'w', 'W':
			write += entry.Value
		}
	}
	return float64(read), float64(write)
}

func networkIO(networks map[string]container.NetworkStats) (float64, float64) {
	var rx, tx uint64
	for _, n := range networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}
	return float64(rx), float64(tx)
}
