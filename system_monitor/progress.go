package systemmonitor

import (
	"fmt"
	"io"
	"sync"

	"github.com/h4x3rotab/docker-unpack-bench/report"
	"github.com/schollz/progressbar/v3"
)

// liveProgress is a one-line readout of the latest sample. A nil *liveProgress does nothing.
type liveProgress struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	finished bool
}

func newLiveProgress(w io.Writer) *liveProgress {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("waiting for samples"),
		progressbar.OptionClearOnFinish(),
	)
	return &liveProgress{bar: bar}
}

func describeSnapshot(s report.Snapshot) string {
	return fmt.Sprintf("CPU: %6.2f%% | Mem: %6.1fMB | Write: %7.1fMB | PIDs: %2d", s.CPUPercent, s.MemoryMB, s.WriteMB, s.PIDs)
}

func (p *liveProgress) update(s report.Snapshot) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.bar.Describe(describeSnapshot(s))
	_ = p.bar.Add(1)
}

func (p *liveProgress) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	_ = p.bar.Finish()
}
