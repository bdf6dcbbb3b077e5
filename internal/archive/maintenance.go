package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// Evictor is the cache-side half of the eviction/archival contract: every
// bucket it returns must be handed to the archiver.
type Evictor interface {
	EvictExpired(now time.Time) []domain.MinuteBucket
}

// Maintenance drives the periodic evict-then-archive cycle, on its own
// schedule and independent of ingestion throughput.
type Maintenance struct {
	evictor  Evictor
	archiver *Archiver
	interval time.Duration
}

func NewMaintenance(evictor Evictor, archiver *Archiver, interval time.Duration) *Maintenance {
	return &Maintenance{
		evictor:  evictor,
		archiver: archiver,
		interval: interval,
	}
}

func (m *Maintenance) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "starting maintenance cycle", "interval", m.interval)

	tick := time.NewTicker(m.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final attempt so buckets evicted during shutdown still reach
			// the store.
			m.runOnce(context.WithoutCancel(ctx), time.Now())
			return ctx.Err()
		case now := <-tick.C:
			m.runOnce(ctx, now)
		}
	}
}

func (m *Maintenance) runOnce(ctx context.Context, now time.Time) {
	expired := m.evictor.EvictExpired(now)
	if len(expired) > 0 {
		slog.DebugContext(ctx, "evicted expired buckets", "count", len(expired))
	}

	// Archive owns retry bookkeeping; errors here are already logged and
	// either retained or escalated.
	_ = m.archiver.Archive(ctx, expired)
}
