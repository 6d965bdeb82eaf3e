package holds

import (
	"context"
	"log/slog"
	"time"
)

// ReclaimWorker deletes long-expired hold rows on a fixed interval.
// Correctness never depends on it running: reads filter on expiry
// themselves. The grace period keeps rows around briefly for
// debugging.
type ReclaimWorker struct {
	store  Store
	logger *slog.Logger
	every  time.Duration
	grace  time.Duration
}

func NewReclaimWorker(store Store, logger *slog.Logger, every, grace time.Duration) *ReclaimWorker {
	if every <= 0 {
		every = time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	return &ReclaimWorker{store: store, logger: logger, every: every, grace: grace}
}

func (w *ReclaimWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.DeleteExpired(ctx, time.Now().Add(-w.grace))
			if err != nil {
				w.logger.Error("hold reclaim failed", "err", err)
				continue
			}
			if n > 0 {
				w.logger.Info("expired holds reclaimed", "count", n)
			}
		}
	}
}
