// Package diagnostics checks host resources before expensive work starts.
package diagnostics

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/codescope-ai/codescope/internal/logging"
)

// Thresholds above which spawning another agent process is refused.
const (
	maxMemoryPercent = 95.0
	maxCPUPercent    = 98.0
)

// Snapshot is one resource reading.
type Snapshot struct {
	MemoryPercent float64 `json:"memory_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	NumGoroutine  int     `json:"num_goroutine"`
	NumCPU        int     `json:"num_cpu"`
}

// Checker gates analysis launches on available host resources. Agent CLIs
// are heavyweight; refusing early beats OOM-killing a running analysis.
type Checker struct {
	log *logging.Logger
}

// NewChecker creates a Checker.
func NewChecker(log *logging.Logger) *Checker {
	return &Checker{log: log.WithComponent("diagnostics")}
}

// Snapshot reads current host usage. Read failures degrade to zero values
// rather than blocking analysis.
func (c *Checker) Snapshot() Snapshot {
	snap := Snapshot{
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	} else {
		c.log.Warn("memory stats unavailable", "error", err)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	return snap
}

// Preflight returns an error when the host is too loaded to start another
// agent process.
func (c *Checker) Preflight() error {
	snap := c.Snapshot()
	if snap.MemoryPercent > maxMemoryPercent {
		return fmt.Errorf("memory usage at %.1f%%, refusing to start analysis", snap.MemoryPercent)
	}
	if snap.CPUPercent > maxCPUPercent {
		return fmt.Errorf("cpu usage at %.1f%%, refusing to start analysis", snap.CPUPercent)
	}
	return nil
}
