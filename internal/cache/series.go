package cache

import (
	"iter"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// Series produces the retained records for a ticker at the given resolution,
// in timestamp order, starting at since. The sequence is finite (bounded by
// the retention horizon), restartable, and never blocks on I/O: each
// iteration snapshots the partition under its lock and yields outside it.
func (c *Cache) Series(ticker string, resolution domain.Resolution, since time.Time) iter.Seq[domain.Candle] {
	return func(yield func(domain.Candle) bool) {
		for _, candle := range c.snapshot(ticker, resolution, since) {
			if !yield(candle) {
				return
			}
		}
	}
}

func (c *Cache) snapshot(ticker string, resolution domain.Resolution, since time.Time) []domain.Candle {
	p := c.lookup(ticker)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var candles []domain.Candle
	switch resolution {
	case domain.ResolutionTick:
		for _, tick := range p.highRes {
			if tick.Timestamp.Before(since) {
				continue
			}
			candles = append(candles, tick.Candle())
		}
	case domain.ResolutionMinute:
		cutoff := since.Truncate(time.Minute)
		for _, bucket := range p.buckets {
			if bucket.MinuteStart.Before(cutoff) {
				continue
			}
			candles = append(candles, bucket.Candle())
		}
	}

	return candles
}
