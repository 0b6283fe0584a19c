package metrics

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a set of processes.
type Usage struct {
	PIDs       []int     `json:"pids"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SampleUsage sums memory, CPU and thread counts over pids. Processes that
// exit or deny access during sampling are left out of PIDs. The RSS total is
// also published on the tree_rss_bytes gauge.
func SampleUsage(pids []int) Usage {
	u := Usage{SampledAt: time.Now()}
	for _, pid := range pids {
		p, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		mem, err := p.MemoryInfo()
		if err != nil {
			continue
		}
		u.PIDs = append(u.PIDs, pid)
		u.RSSBytes += mem.RSS
		if cpu, err := p.CPUPercent(); err == nil {
			u.CPUPercent += cpu
		}
		if n, err := p.NumThreads(); err == nil {
			u.NumThreads += n
		}
	}
	SetTreeRSS(u.RSSBytes)
	return u
}
