package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"pairwire/contract"
	"pairwire/observability"
)

var _ contract.Worker = (*StatsWorker)(nil)

// StatsWorker periodically logs broker gauges together with process
// self-stats (RSS, CPU). Purely observational; nothing reads it back.
type StatsWorker struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewStatsWorker(log *slog.Logger, monitoring *observability.MonitoringManager,
	interval time.Duration) *StatsWorker {
	return &StatsWorker{log: log, monitoring: monitoring, interval: interval}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			stats := w.monitoring.Snapshot()
			w.log.Info("Broker stats",
				"connections", stats.Connections,
				"rooms", stats.Rooms,
				"online_users", stats.OnlineUsers,
				"events_published", stats.EventsPublished,
				"events_dropped", stats.EventsDropped,
				"messages_appended", stats.MessagesAppended,
				"ram_bytes", rss,
				"cpu_percent", cpu)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
