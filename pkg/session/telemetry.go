package session

import (
	"context"
	"time"

	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/types"
)

const (
	healthReportInterval  = 30 * time.Second
	resourceStatsInterval = 30 * time.Second
	cpuSampleWindow       = 500 * time.Millisecond
)

// healthReportLoop periodically emits a node-wide snapshot.
func (s *Session) healthReportLoop(ctx context.Context) {
	ticker := time.NewTicker(healthReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitHealthReport(ctx)
		}
	}
}

func (s *Session) emitHealthReport(ctx context.Context) {
	cpuPercent := cpuPercentOverWindow(cpuSampleWindow)
	memUsedMB, memTotalMB, err := memInfoMB()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read memory info")
	}
	diskUsedMB, diskTotalMB, err := diskUsageMB(s.cfg.Server.DataDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read disk usage")
	}

	containers, err := s.driver.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list containers for health report")
	}

	report := types.HealthReport{
		CPUPercent:     cpuPercent,
		MemoryUsageMB:  memUsedMB,
		MemoryTotalMB:  memTotalMB,
		DiskUsageMB:    diskUsedMB,
		DiskTotalMB:    diskTotalMB,
		ContainerCount: len(containers),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}

	s.Emit(types.MsgHealthReport, map[string]any{
		"cpuPercent":     report.CPUPercent,
		"memoryUsageMb":  report.MemoryUsageMB,
		"memoryTotalMb":  report.MemoryTotalMB,
		"diskUsageMb":    report.DiskUsageMB,
		"diskTotalMb":    report.DiskTotalMB,
		"containerCount": report.ContainerCount,
		"uptimeSeconds":  report.UptimeSeconds,
	})
}

// resourceStatsLoop periodically emits a per-workload resource snapshot for
// every running container.
func (s *Session) resourceStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(resourceStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitResourceStats(ctx)
		}
	}
}

func (s *Session) emitResourceStats(ctx context.Context) {
	containers, err := s.driver.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list containers for resource stats")
		return
	}

	for _, c := range containers {
		if !c.Running {
			continue
		}
		raw, err := s.driver.Stats(ctx, c.Name)
		if err != nil {
			s.logger.Warn().Err(err).Str("container", c.Name).Msg("failed to read container stats")
			continue
		}

		stats := types.ResourceStats{
			ServerUUID:    c.Name,
			CPUPercent:    parsePercent(raw.CPUPercent),
			MemoryUsageMB: int64(parseByteSizeMB(raw.MemUsage)),
			NetworkRxB:    int64(parseByteSizeMB(raw.NetRX) * 1024 * 1024),
			NetworkTxB:    int64(parseByteSizeMB(raw.NetTX) * 1024 * 1024),
			DiskIOMB:      int64(parseByteSizeMB(raw.BlockRead) + parseByteSizeMB(raw.BlockWrite)),
		}

		// Disk usage comes from the workload's loop-mounted filesystem,
		// not the runtime's stats output.
		mount := s.serverDir(c.Name, nil)
		if used, total, err := diskUsageMB(mount); err == nil {
			stats.DiskUsageMB = used
			stats.DiskTotalMB = total
			metrics.StorageBytesUsed.WithLabelValues(c.Name).Set(float64(used) * 1024 * 1024)
		}

		s.Emit(types.MsgResourceStats, map[string]any{
			"serverUuid":     stats.ServerUUID,
			"cpuPercent":     stats.CPUPercent,
			"memoryUsageMb":  stats.MemoryUsageMB,
			"networkRxBytes": stats.NetworkRxB,
			"networkTxBytes": stats.NetworkTxB,
			"diskIoMb":       stats.DiskIOMB,
			"diskUsageMb":    stats.DiskUsageMB,
			"diskTotalMb":    stats.DiskTotalMB,
		})
	}
}
