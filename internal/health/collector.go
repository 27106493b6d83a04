// Package health grades agents from their telemetry and samples the host the
// server or CLI runs on.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemStats is a point-in-time view of the local host.
type SystemStats struct {
	Hostname           string  `json:"hostname"`
	Platform           string  `json:"platform"`
	Architecture       string  `json:"architecture"`
	OSRelease          string  `json:"os_release"`
	CPUCount           int     `json:"cpu_count"`
	CPUPercent         float64 `json:"cpu_percent"`
	MemoryPercent      float64 `json:"memory_percent"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	DiskPercent        float64 `json:"disk_percent"`
	DiskFreeBytes      uint64  `json:"disk_free_bytes"`
	DiskTotalBytes     uint64  `json:"disk_total_bytes"`
	NetworkConnections int64   `json:"network_connections"`
	HostUptimeSeconds  uint64  `json:"host_uptime_seconds"`
	GoRoutines         int     `json:"goroutines"`
}

// Collector samples host statistics with gopsutil.
type Collector struct {
	cpuInterval time.Duration
	diskPath    string
}

// NewCollector creates a collector. cpuInterval is the CPU sampling window.
func NewCollector(cpuInterval time.Duration) *Collector {
	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = "C:\\"
	}
	return &Collector{cpuInterval: cpuInterval, diskPath: diskPath}
}

// Collect gathers host statistics. Individual probes that fail leave their
// fields zero; only a failing host lookup is an error.
func (c *Collector) Collect(ctx context.Context) (*SystemStats, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	s := &SystemStats{
		Hostname:          info.Hostname,
		Platform:          platformName(info.OS),
		Architecture:      info.KernelArch,
		OSRelease:         info.KernelVersion,
		HostUptimeSeconds: info.Uptime,
		GoRoutines:        runtime.NumGoroutine(),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCount = n
	}
	if pct, err := cpu.PercentWithContext(ctx, c.cpuInterval, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryTotalBytes = vm.Total
	}
	if du, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		s.DiskPercent = du.UsedPercent
		s.DiskFreeBytes = du.Free
		s.DiskTotalBytes = du.Total
	}
	if conns, err := net.ConnectionsWithContext(ctx, "inet"); err == nil {
		s.NetworkConnections = int64(len(conns))
	}

	return s, nil
}

// TopProcesses returns up to limit processes ordered by CPU usage.
func (c *Collector) TopProcesses(ctx context.Context, limit int) ([]pkgmodels.ProcessReport, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	reports := make([]pkgmodels.ProcessReport, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Process exited or is not readable.
			continue
		}
		r := pkgmodels.ProcessReport{PID: int(p.Pid), Name: name}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			r.Username = user
		}
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			r.CPUPercent = pct
		}
		if pct, err := p.MemoryPercentWithContext(ctx); err == nil {
			r.MemoryPercent = float64(pct)
		}
		reports = append(reports, r)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].CPUPercent > reports[j].CPUPercent
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

// Payload builds a telemetry payload describing the local host, as an agent
// would report it.
func (c *Collector) Payload(ctx context.Context, agentID, version string, maxProcesses int) (*pkgmodels.TelemetryPayload, error) {
	stats, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if agentID == "" {
		agentID = stats.Hostname
	}

	metrics, err := json.Marshal(stats.metricsBlock())
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}

	procs, err := c.TopProcesses(ctx, maxProcesses)
	if err != nil {
		return nil, err
	}

	return &pkgmodels.TelemetryPayload{
		AgentInfo: pkgmodels.AgentInfo{
			ID:           agentID,
			Hostname:     stats.Hostname,
			Platform:     stats.Platform,
			Architecture: stats.Architecture,
			OSRelease:    stats.OSRelease,
			Version:      version,
		},
		Metrics:   metrics,
		Processes: procs,
	}, nil
}

func (s *SystemStats) metricsBlock() map[string]any {
	return map[string]any{
		"cpu": map[string]any{
			"percent": s.CPUPercent,
			"count":   s.CPUCount,
		},
		"memory": map[string]any{
			"percent": s.MemoryPercent,
			"total":   s.MemoryTotalBytes,
		},
		"disk": map[string]any{
			"percent": s.DiskPercent,
			"total":   s.DiskTotalBytes,
			"free":    s.DiskFreeBytes,
		},
		"network": map[string]any{
			"connections": s.NetworkConnections,
		},
		"uptime": s.HostUptimeSeconds,
	}
}

// platformName maps gopsutil's OS name to the form agents report.
func platformName(goos string) string {
	switch goos {
	case "darwin":
		return "Darwin"
	case "":
		return runtime.GOOS
	default:
		return strings.ToUpper(goos[:1]) + goos[1:]
	}
}
