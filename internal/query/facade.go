package query

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/store"
)

var ErrNoData = fmt.Errorf("%w: no price data in range", domain.ErrNotFound)

// CacheReader is the cache surface the facade merges over.
type CacheReader interface {
	Series(ticker string, resolution domain.Resolution, since time.Time) iter.Seq[domain.Candle]
}

// Facade is the unified read API: high-resolution ticks and minute buckets
// merged into one ordered view, extended through the durable store when the
// requested range predates cache retention.
type Facade struct {
	cache CacheReader
	store store.Store
}

func New(cache CacheReader, st store.Store) *Facade {
	return &Facade{
		cache: cache,
		store: st,
	}
}

// Query returns an ordered, gap- and duplicate-free sequence of candles for
// [from, to]. Where both tiers cover the same minute, the high-resolution
// ticks win. ErrNoData is returned only when no tier holds anything for the
// full range.
func (f *Facade) Query(ctx context.Context, ticker string, from, to time.Time) ([]domain.Candle, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to %s before from %s", to, from)
	}

	var ticks []domain.Candle
	for candle := range f.cache.Series(ticker, domain.ResolutionTick, from) {
		if candle.Start.After(to) {
			break
		}
		ticks = append(ticks, candle)
	}

	// The high-resolution tier wins from the first minute boundary it fully
	// covers; earlier minutes stay with the bucket tier, so a partially
	// retained minute is neither duplicated nor lost.
	highResFrom := to.Add(time.Nanosecond)
	if len(ticks) > 0 {
		highResFrom = ticks[0].Start.Truncate(time.Minute)
		if !highResFrom.Equal(ticks[0].Start) {
			highResFrom = highResFrom.Add(time.Minute)
		}
	}

	var merged []domain.Candle
	for candle := range f.cache.Series(ticker, domain.ResolutionMinute, from) {
		if candle.Start.After(to) || !candle.Start.Before(highResFrom) {
			break
		}
		merged = append(merged, candle)
	}
	for _, tick := range ticks {
		if tick.Start.Before(highResFrom) {
			continue
		}
		merged = append(merged, tick)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})

	historical, err := f.readHistorical(ctx, ticker, from, to, merged)
	if err != nil {
		return nil, err
	}
	merged = append(historical, merged...)

	if len(merged) == 0 {
		return nil, ErrNoData
	}
	return merged, nil
}

// readHistorical extends the query to the durable store for the part of the
// range the cache no longer retains.
func (f *Facade) readHistorical(ctx context.Context, ticker string, from, to time.Time, cached []domain.Candle) ([]domain.Candle, error) {
	storeTo := to
	if len(cached) > 0 {
		earliestDay := cached[0].Start.UTC().Truncate(24 * time.Hour)
		storeTo = earliestDay.Add(-time.Nanosecond)
	}
	if storeTo.Before(from) {
		return nil, nil
	}

	closes, err := f.store.ReadDailyCloses(ctx, ticker, from, storeTo)
	if err != nil {
		return nil, fmt.Errorf("durable store fallback read failed: %w", err)
	}

	candles := make([]domain.Candle, 0, len(closes))
	for _, dc := range closes {
		candles = append(candles, dc.Candle())
	}
	return candles, nil
}
