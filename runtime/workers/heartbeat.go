package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-sync/contract"
)

// Ensure *HeartbeatWorker implements the contract.Worker interface at compile time.
var _ contract.Worker = (*HeartbeatWorker)(nil)

// QueueDepther reports the depth of the outgoing send queue.
type QueueDepther interface {
	QueueDepth() int
	Connected() bool
}

// HeartbeatWorker periodically logs process health (RSS, CPU, status)
// together with the realtime channel state. Purely observational: a
// failed sample is logged and skipped.
type HeartbeatWorker struct {
	log      *slog.Logger
	channel  QueueDepther
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, channel QueueDepther, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, channel: channel, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker")
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
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Heartbeat",
				"pid", os.Getpid(),
				"pidStatus", status,
				"cpuPercent", cpu,
				"ramBytes", rss,
				"connected", w.channel.Connected(),
				"queueDepth", w.channel.QueueDepth(),
			)
		}
	}
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
