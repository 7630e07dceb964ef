// Package sysmon samples host resource usage so the tray client can show
// whether the tracking daemon is starving the machine.
package sysmon

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is one point-in-time reading of host resource usage.
type Stats struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	MemoryUsedMB  uint64    `json:"memoryUsedMb"`
	DiskPercent   float64   `json:"diskPercent"`
	DiskFreeMB    uint64    `json:"diskFreeMb"`
}

// Monitor polls host stats on a fixed interval and hands each reading to a
// callback.
type Monitor struct {
	interval time.Duration
	diskPath string
	onStats  func(Stats)
}

func New(interval time.Duration, diskPath string, onStats func(Stats)) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{interval: interval, diskPath: diskPath, onStats: onStats}
}

// Run polls until ctx is cancelled. Read failures are logged and skipped;
// a transient /proc hiccup shouldn't kill the monitor.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := m.sample(ctx)
			if err != nil {
				log.Printf("System stats read failed: %v", err)
				continue
			}
			m.onStats(stats)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) (Stats, error) {
	s := Stats{Timestamp: time.Now()}

	// Interval 0 compares against the previous call instead of blocking.
	cpuPcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Stats{}, err
	}
	if len(cpuPcts) > 0 {
		s.CPUPercent = cpuPcts[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.MemoryPercent = vm.UsedPercent
	s.MemoryUsedMB = vm.Used / (1 << 20)

	du, err := disk.UsageWithContext(ctx, m.diskPath)
	if err != nil {
		return Stats{}, err
	}
	s.DiskPercent = du.UsedPercent
	s.DiskFreeMB = du.Free / (1 << 20)

	return s, nil
}
