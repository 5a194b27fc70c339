// Package probe collects the three heartbeat inputs the telemetry ingestor
// accounts for: idle seconds, CPU percent, and memory percent. Idle
// measurement is platform-specific (idle_linux.go, idle_windows.go,
// idle_darwin.go, idle_other.go); CPU/memory are cross-platform via
// gopsutil. No probe may block longer than probeTimeout.
package probe

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// probeTimeout bounds every individual probe call so a wedged platform
// helper (e.g. a hung xprintidle subprocess) never blocks the heartbeat loop.
const probeTimeout = 5 * time.Second

// Snapshot is one reading of all three probes.
type Snapshot struct {
	IdleSeconds int64
	CPUPercent  *float64
	MemPercent  *float64
}

// Collect gathers a full Snapshot, bounding each sub-probe independently so
// one slow probe cannot consume the whole heartbeat tick's budget.
func Collect(ctx context.Context) Snapshot {
	return Snapshot{
		IdleSeconds: idleSeconds(ctx),
		CPUPercent:  cpuPercent(ctx),
		MemPercent:  memPercent(ctx),
	}
}

// cpuPercent samples CPU utilization over a short window via gopsutil.
// Returns nil if the platform's CPU stats are unavailable.
func cpuPercent(ctx context.Context) *float64 {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		return nil
	}
	v := percents[0]
	return &v
}

// memPercent reports used-memory percentage via gopsutil. Returns nil if
// virtual memory stats are unavailable.
func memPercent(ctx context.Context) *float64 {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	v := vm.UsedPercent
	return &v
}
