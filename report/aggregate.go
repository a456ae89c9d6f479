package report

// Aggregate reduces snapshots to peak and average values. An empty input gives all zeros.
func Aggregate(snapshots []Snapshot) PeakMetrics {
	pm := PeakMetrics{SamplesCollected: len(snapshots)}
	if len(snapshots) == 0 {
		return pm
	}

	var cpuSum, memSum float64
	for i, s := range snapshots {
		cpuSum += s.CPUPercent
		memSum += s.MemoryMB
		if i == 0 {
			pm.CPUPeakPercent = s.CPUPercent
			pm.MemoryPeakMB = s.MemoryMB
			pm.PIDPeakCount = s.PIDs
			pm.BlockIOReadPeakMB = s.ReadMB
			pm.BlockIOWritePeakMB = s.WriteMB
			pm.NetIORxMB = s.NetRxMB
			pm.NetIOTxMB = s.NetTxMB
			continue
		}
		pm.CPUPeakPercent = max(pm.CPUPeakPercent, s.CPUPercent)
		pm.MemoryPeakMB = max(pm.MemoryPeakMB, s.MemoryMB)
		pm.PIDPeakCount = max(pm.PIDPeakCount, s.PIDs)
		pm.BlockIOReadPeakMB = max(pm.BlockIOReadPeakMB, s.ReadMB)
		pm.BlockIOWritePeakMB = max(pm.BlockIOWritePeakMB, s.WriteMB)
		pm.NetIORxMB = max(pm.NetIORxMB, s.NetRxMB)
		pm.NetIOTxMB = max(pm.NetIOTxMB, s.NetTxMB)
	}

	n := float64(len(snapshots))
	pm.CPUAvgPercent = cpuSum / n
	pm.MemoryAvgMB = memSum / n
	pm.BlockIOTotalWriteMB = snapshots[len(snapshots)-1].WriteMB
	return pm
}

// Summarize computes duration statistics over the successful trials only.
func Summarize(runs []TrialRecord) Summary {
	sum := Summary{}
	var total float64
	for _, r := range runs {
		if !r.Success {
			sum.FailedRuns++
			continue
		}
		if sum.SuccessfulRuns == 0 {
			sum.MinDurationSeconds = r.DurationSeconds
			sum.MaxDurationSeconds = r.DurationSeconds
		} else {
			sum.MinDurationSeconds = min(sum.MinDurationSeconds, r.DurationSeconds)
			sum.MaxDurationSeconds = max(sum.MaxDurationSeconds, r.DurationSeconds)
		}
		sum.SuccessfulRuns++
		total += r.DurationSeconds
	}
	if sum.SuccessfulRuns > 0 {
		sum.AvgDurationSeconds = total / float64(sum.SuccessfulRuns)
	}
	return sum
}

// PeakAcrossRuns returns the highest CPU, memory and total write seen in any successful trial.
func PeakAcrossRuns(runs []TrialRecord) (cpuPercent, memoryMB, totalWriteMB float64) {
	for _, r := range runs {
		if !r.Success {
			continue
		}
		cpuPercent = max(cpuPercent, r.PeakMetrics.CPUPeakPercent)
		memoryMB = max(memoryMB, r.PeakMetrics.MemoryPeakMB)
		totalWriteMB = max(totalWriteMB, r.PeakMetrics.BlockIOTotalWriteMB)
	}
	return cpuPercent, memoryMB, totalWriteMB
}
