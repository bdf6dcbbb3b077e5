package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/telemetry"
)

var ErrNoTicks = fmt.Errorf("%w: no ticks recorded", domain.ErrNotFound)

// Publisher receives every accepted tick. Publish must be non-blocking; the
// broadcaster satisfies this by enqueueing onto per-subscriber buffers.
type Publisher interface {
	Publish(event domain.TickEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.TickEvent) {}

type Config struct {
	HighResHorizon      time.Duration
	HighResMaxEntries   int
	MinuteBucketHorizon time.Duration
}

// Cache is the tiered time-series cache: per ticker, a short high-resolution
// window of raw ticks plus a day of minute buckets. All mutable state is
// partitioned by ticker; tickers never contend with each other.
type Cache struct {
	cfg       Config
	publisher Publisher
	metrics   *telemetry.Metrics

	mu         sync.RWMutex
	partitions map[string]*partition
}

// partition holds one ticker's windows. Its mutex serializes writers, so
// concurrent ticks for the same ticker are strictly ordered by arrival.
type partition struct {
	mu      sync.Mutex
	highRes []domain.PriceTick
	buckets []*domain.MinuteBucket
	last    domain.PriceTick
	hasLast bool
}

func New(cfg Config, publisher Publisher, metrics *telemetry.Metrics) *Cache {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Cache{
		cfg:        cfg,
		publisher:  publisher,
		metrics:    metrics,
		partitions: make(map[string]*partition),
	}
}

func (c *Cache) partition(ticker string) *partition {
	c.mu.RLock()
	p, ok := c.partitions[ticker]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[ticker]; ok {
		return p
	}
	p = &partition{}
	c.partitions[ticker] = p
	return p
}

func (c *Cache) lookup(ticker string) *partition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitions[ticker]
}

// Record inserts an accepted tick into both tiers and publishes it to the
// broadcaster before returning, so any reader that observes the cache update
// has also had the tick queued for delivery. The per-ticker monotonic
// timestamp invariant is enforced here independently of the normalizer,
// because concurrent producers can interleave between the two checks.
func (c *Cache) Record(tick domain.PriceTick) error {
	p := c.partition(tick.Ticker)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasLast && !tick.Timestamp.After(p.last.Timestamp) {
		c.metrics.TicksRejected.Add(context.Background(), 1, telemetry.Reason("stale_timestamp"))
		return domain.Reject(domain.ErrStaleTimestamp)
	}

	p.highRes = append(p.highRes, tick)
	if c.cfg.HighResMaxEntries > 0 && len(p.highRes) > c.cfg.HighResMaxEntries {
		p.highRes = p.highRes[len(p.highRes)-c.cfg.HighResMaxEntries:]
	}

	minute := tick.Timestamp.Truncate(time.Minute)
	if n := len(p.buckets); n > 0 && p.buckets[n-1].MinuteStart.Equal(minute) {
		p.buckets[n-1].Fold(tick)
	} else {
		p.buckets = append(p.buckets, domain.NewMinuteBucket(tick))
	}

	var change float64
	if p.hasLast {
		change = tick.Price - p.last.Price
	}
	p.last = tick
	p.hasLast = true

	c.metrics.TicksAccepted.Add(context.Background(), 1)
	c.publisher.Publish(domain.TickEvent{
		Ticker:    tick.Ticker,
		Price:     tick.Price,
		Change:    change,
		Volume:    tick.Volume,
		Timestamp: tick.Timestamp,
	})

	return nil
}

// Latest returns the most recent accepted tick for the ticker.
func (c *Cache) Latest(ticker string) (domain.PriceTick, error) {
	p := c.lookup(ticker)
	if p == nil {
		return domain.PriceTick{}, ErrNoTicks
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasLast {
		return domain.PriceTick{}, ErrNoTicks
	}
	return p.last, nil
}

// LastTimestamp reports the last accepted timestamp, for the normalizer's
// ordering check.
func (c *Cache) LastTimestamp(ticker string) (time.Time, bool) {
	p := c.lookup(ticker)
	if p == nil {
		return time.Time{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasLast {
		return time.Time{}, false
	}
	return p.last.Timestamp, true
}

// Tickers lists every ticker with at least one accepted tick.
func (c *Cache) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickers := make([]string, 0, len(c.partitions))
	for ticker := range c.partitions {
		tickers = append(tickers, ticker)
	}
	return tickers
}

// EvictExpired drops high-resolution entries past the short horizon outright
// and removes minute buckets past the day horizon, returning them for
// archival. This is the sole path by which buckets leave memory: the caller
// must hand the returned buckets to the archiver.
func (c *Cache) EvictExpired(now time.Time) []domain.MinuteBucket {
	highResCutoff := now.Add(-c.cfg.HighResHorizon)
	bucketCutoff := now.Add(-c.cfg.MinuteBucketHorizon)

	var expired []domain.MinuteBucket
	for _, ticker := range c.Tickers() {
		p := c.lookup(ticker)
		if p == nil {
			continue
		}

		p.mu.Lock()
		i := 0
		for i < len(p.highRes) && p.highRes[i].Timestamp.Before(highResCutoff) {
			i++
		}
		if i > 0 {
			p.highRes = append([]domain.PriceTick(nil), p.highRes[i:]...)
		}

		j := 0
		for j < len(p.buckets) && p.buckets[j].MinuteStart.Before(bucketCutoff) {
			expired = append(expired, *p.buckets[j])
			j++
		}
		if j > 0 {
			p.buckets = append([]*domain.MinuteBucket(nil), p.buckets[j:]...)
		}
		p.mu.Unlock()
	}

	return expired
}
