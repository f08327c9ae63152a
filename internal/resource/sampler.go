// Package resource samples host utilization and gates job admission so the
// scheduler never dispatches work the machine has no headroom for.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time view of host utilization. Published copies are
// immutable; readers never block the sampling loop.
type Snapshot struct {
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	AvailableMemory uint64    `json:"available_memory"`
	DiskFree        uint64    `json:"disk_free"`
	TakenAt         time.Time `json:"taken_at"`
}

// Sampler produces resource snapshots. The gopsutil implementation is
// replaced with a scripted one in tests.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SystemSampler samples the host via gopsutil.
type SystemSampler struct {
	diskPath string
}

// NewSystemSampler creates a sampler reading disk stats for diskPath
// (defaults to "/").
func NewSystemSampler(diskPath string) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSampler{diskPath: diskPath}
}

// Sample implements Sampler. CPU percent is instantaneous (interval 0) so the
// call never blocks the monitor loop.
func (s *SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample memory: %w", err)
	}
	usage, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample disk: %w", err)
	}

	snap := Snapshot{
		MemoryPercent:   vm.UsedPercent,
		AvailableMemory: vm.Available,
		DiskFree:        usage.Free,
		TakenAt:         time.Now().UTC(),
	}
	if len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}
	return snap, nil
}
