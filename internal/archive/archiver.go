package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/store"
	"github.com/0xc0d3d00d/pricefeed/internal/telemetry"
)

// AlertFunc is invoked when a batch has exhausted its retries and is about
// to be dropped. This is the subsystem's only fatal condition: imminent data
// loss, surfaced loudly.
type AlertFunc func(ctx context.Context, buckets []domain.MinuteBucket, err error)

type Config struct {
	// RetryLimit bounds consecutive failed archival attempts for a batch.
	RetryLimit int
}

// Archiver rolls expired minute buckets up into daily closes and hands them
// to the durable store. A failed batch is retained and retried on the next
// maintenance tick rather than dropped; only after RetryLimit consecutive
// failures is it abandoned, through the alert hook.
type Archiver struct {
	store   store.Store
	cfg     Config
	metrics *telemetry.Metrics
	alert   AlertFunc

	mu       sync.Mutex
	pending  []domain.MinuteBucket
	failures int
}

func New(st store.Store, cfg Config, metrics *telemetry.Metrics, alert AlertFunc) *Archiver {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	if alert == nil {
		alert = func(ctx context.Context, buckets []domain.MinuteBucket, err error) {}
	}
	return &Archiver{
		store:   st,
		cfg:     cfg,
		metrics: metrics,
		alert:   alert,
	}
}

// Archive folds the supplied buckets (plus any batch retained from earlier
// failed attempts) into one daily close per ticker per date and upserts
// them. Buckets are only reported consumed once every upsert succeeded.
func (a *Archiver) Archive(ctx context.Context, buckets []domain.MinuteBucket) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := append(a.pending, buckets...)
	if len(batch) == 0 {
		return nil
	}

	if err := a.upsertCloses(ctx, reduce(batch)); err != nil {
		a.failures++
		a.metrics.ArchiveRetries.Add(ctx, 1)

		if a.failures > a.cfg.RetryLimit {
			slog.ErrorContext(ctx, "archival retries exhausted, dropping batch",
				"buckets", len(batch),
				"attempts", a.failures,
				"error", err)
			a.metrics.ArchiveFailures.Add(ctx, 1)
			a.alert(ctx, batch, err)
			a.pending = nil
			a.failures = 0
			return fmt.Errorf("archival retries exhausted: %w", err)
		}

		slog.WarnContext(ctx, "archival failed, batch retained for retry",
			"buckets", len(batch),
			"attempt", a.failures,
			"error", err)
		a.pending = batch
		return err
	}

	a.metrics.BucketsArchived.Add(ctx, int64(len(batch)))
	a.pending = nil
	a.failures = 0
	return nil
}

type closeKey struct {
	ticker string
	date   time.Time
}

// reduce picks, per ticker per date, the close of the last bucket in
// sequence order. Order is preserved so the newest close always wins.
func reduce(buckets []domain.MinuteBucket) []domain.DailyClose {
	byDay := make(map[closeKey]*domain.DailyClose)
	order := make([]closeKey, 0, len(buckets))

	for _, bucket := range buckets {
		key := closeKey{
			ticker: bucket.Ticker,
			date:   bucket.MinuteStart.UTC().Truncate(24 * time.Hour),
		}
		if dc, ok := byDay[key]; ok {
			dc.Close = bucket.Close
			continue
		}
		byDay[key] = &domain.DailyClose{
			Ticker: bucket.Ticker,
			Date:   key.date,
			Close:  bucket.Close,
		}
		order = append(order, key)
	}

	closes := make([]domain.DailyClose, 0, len(order))
	for _, key := range order {
		closes = append(closes, *byDay[key])
	}
	return closes
}

func (a *Archiver) upsertCloses(ctx context.Context, closes []domain.DailyClose) error {
	for _, dc := range closes {
		if err := a.store.UpsertDailyClose(ctx, dc); err != nil {
			return fmt.Errorf("failed to upsert daily close for %s %s: %w",
				dc.Ticker, dc.Date.Format(time.DateOnly), err)
		}
	}
	return nil
}
