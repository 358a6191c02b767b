package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Stats is a resource snapshot of a running child.
type Stats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
	Children   int     `json:"children"`
}

// ReadStats samples resource usage for pid. Errors mean the process is gone
// or the platform does not expose the counters.
func ReadStats(pid int) (Stats, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		st.NumThreads = n
	}
	if kids, err := p.Children(); err == nil {
		st.Children = len(kids)
	}
	return st, nil
}

// createTimeUnix asks gopsutil for the process creation time, in Unix seconds, or 0.
func createTimeUnix(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
