package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-sync/contract"
)

// Ensure *JanitorWorker implements the contract.Worker interface at compile time.
var _ contract.Worker = (*JanitorWorker)(nil)

// JanitorWorker applies the cache TTL: on every tick it purges messages
// older than the retention window. The store itself protects Pending,
// Failed and unread entries from eviction.
type JanitorWorker struct {
	log       *slog.Logger
	store     contract.Store
	retention time.Duration
	interval  time.Duration
}

func NewJanitorWorker(log *slog.Logger, store contract.Store,
	retention, interval time.Duration) *JanitorWorker {
	return &JanitorWorker{log: log, store: store, retention: retention, interval: interval}
}

func (w *JanitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-w.retention)
			w.store.PurgeStale(cutoff)
			w.log.Debug("Cache purge pass done", "olderThan", cutoff)
		}
	}
}
