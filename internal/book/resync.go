package book

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// resyncer owns the snapshot refetch for one book key. At most one resync
// runs at a time; scheduling while one is in flight cancels and replaces it
// rather than stacking a second.
type resyncer struct {
	actor   *actor
	cfg     Config
	fetcher SnapshotFetcher
	logger  *slog.Logger

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

func newResyncer(a *actor, cfg Config, fetcher SnapshotFetcher, logger *slog.Logger) *resyncer {
	return &resyncer{actor: a, cfg: cfg, fetcher: fetcher, logger: logger}
}

// schedule starts a resync for the key. Without a fetcher the book goes
// straight to stale, since there is no way to recover.
func (r *resyncer) schedule() {
	if r.fetcher == nil {
		r.actor.setState(domain.BookStale)
		return
	}

	r.mu.Lock()
	if r.cancelRun != nil {
		r.cancelRun()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelRun = cancel
	r.mu.Unlock()

	r.actor.setState(domain.BookResyncing)
	go r.run(ctx)
}

// cancel aborts any in-flight resync. Called when a fresh snapshot arrives
// through the normal feed, or when the actor stops.
func (r *resyncer) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRun != nil {
		r.cancelRun()
		r.cancelRun = nil
	}
}

// run refetches the snapshot with exponential backoff. On success the
// snapshot goes through the actor queue so it is applied atomically by the
// single writer; on exhaustion the book is marked stale.
func (r *resyncer) run(ctx context.Context) {
	key := r.actor.key
	backoff := r.cfg.ResyncBackoff

	for attempt := 1; attempt <= r.cfg.MaxResyncAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.ResyncTimeout)
		snap, err := r.fetcher.FetchSnapshot(fetchCtx, key)
		cancel()

		if err == nil {
			if err := r.actor.enqueue(ctx, command{snapshot: &snap}); err != nil {
				return
			}
			r.logger.Info("resync complete",
				slog.String("key", key.String()),
				slog.Int("attempt", attempt),
				slog.Uint64("sequence", snap.Sequence),
			)
			return
		}
		if ctx.Err() != nil {
			return
		}

		r.logger.Warn("resync fetch failed",
			slog.String("key", key.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
	}

	r.logger.Error("resync attempts exhausted, marking book stale",
		slog.String("key", key.String()),
	)
	r.actor.setState(domain.BookStale)
}
