package agentd

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// Monitor collects the host sample carried by heartbeat echoes.
type Monitor struct {
	engine Engine
}

func NewMonitor(engine Engine) *Monitor {
	return &Monitor{engine: engine}
}

// Sample gathers a best-effort snapshot. Collectors that fail leave their
// fields zero. CPU usage is measured since the previous call, which lines
// up with one sample per heartbeat.
func (m *Monitor) Sample(ctx context.Context) protocol.MonitorStats {
	var stats protocol.MonitorStats

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryUsed = vm.Used
		stats.MemoryTotal = vm.Total
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats.DiskUsed = du.Used
		stats.DiskTotal = du.Total
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.UptimeSeconds = int64(uptime)
	}
	if m.engine != nil {
		stats.ContainerCount = m.engine.RunningCount(ctx)
	}
	return stats
}
