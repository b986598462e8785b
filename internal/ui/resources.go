package ui

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/harshul/droidpanel/internal/thermal"
)

// GetResourceStats fetches current system resource statistics
func GetResourceStats(ctx context.Context) ResourceStats {
	stats := ResourceStats{CPUTemp: -1}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryUsed = memInfo.Used
		stats.MemoryTotal = memInfo.Total
		stats.MemPercent = memInfo.UsedPercent
	}

	stats.CPUTemp = thermal.CPUTemperature(ctx)

	return stats
}

// FormatMemory renders used/total memory, e.g. "6.1 GiB/16 GiB".
func FormatMemory(used, total uint64) string {
	return humanize.IBytes(used) + "/" + humanize.IBytes(total)
}
