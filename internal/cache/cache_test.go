package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/pricefeed/internal/cache"
	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(cache.Config{
		HighResHorizon:      5 * time.Minute,
		HighResMaxEntries:   300,
		MinuteBucketHorizon: 24 * time.Hour,
	}, nil, nil)
}

func tick(ticker string, offset time.Duration, price float64, volume int64) domain.PriceTick {
	return domain.PriceTick{
		Ticker:    ticker,
		Timestamp: baseTime.Add(offset),
		Price:     price,
		Volume:    volume,
	}
}

func TestRecordAcceptsStrictlyIncreasingTimestamps(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", 0, 150, 100)))
	require.NoError(t, c.Record(tick("AAPL", time.Second, 151, 100)))

	// Duplicate timestamp
	err := c.Record(tick("AAPL", time.Second, 152, 100))
	require.ErrorIs(t, err, domain.ErrRejected)
	require.ErrorIs(t, err, domain.ErrStaleTimestamp)

	// Out-of-order timestamp
	err = c.Record(tick("AAPL", -time.Second, 149, 100))
	require.ErrorIs(t, err, domain.ErrStaleTimestamp)
}

func TestRejectedTickAltersNothing(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", 0, 150, 100)))
	require.Error(t, c.Record(tick("AAPL", 0, 999, 999)))

	latest, err := c.Latest("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, latest.Price)

	var buckets []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionMinute, time.Time{}) {
		buckets = append(buckets, candle)
	}
	require.Len(t, buckets, 1)
	assert.Equal(t, 150.0, buckets[0].Close)
	assert.Equal(t, int64(100), buckets[0].Volume)
}

func TestLatestReturnsJustRecordedTick(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Latest("AAPL")
	require.ErrorIs(t, err, domain.ErrNotFound)

	want := tick("AAPL", 0, 150.25, 42)
	require.NoError(t, c.Record(want))

	got, err := c.Latest("AAPL")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTickersAreIndependent(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", time.Minute, 150, 0)))
	// An older timestamp on a different ticker is not out of order.
	require.NoError(t, c.Record(tick("MSFT", 0, 400, 0)))

	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, c.Tickers())
}

func TestMinuteBucketFold(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", 0, 150.00, 10)))
	require.NoError(t, c.Record(tick("AAPL", 10*time.Second, 151.00, 20)))
	require.NoError(t, c.Record(tick("AAPL", 20*time.Second, 149.50, 30)))
	require.NoError(t, c.Record(tick("AAPL", 30*time.Second, 150.25, 40)))

	var buckets []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionMinute, time.Time{}) {
		buckets = append(buckets, candle)
	}
	require.Len(t, buckets, 1)

	bucket := buckets[0]
	assert.Equal(t, 150.00, bucket.Open)
	assert.Equal(t, 151.00, bucket.High)
	assert.Equal(t, 149.50, bucket.Low)
	assert.Equal(t, 150.25, bucket.Close)
	assert.Equal(t, int64(100), bucket.Volume)
	assert.Equal(t, baseTime, bucket.Start)
}

func TestMinuteBoundaryStartsNewBucket(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", 0, 150.00, 0)))
	require.NoError(t, c.Record(tick("AAPL", 30*time.Second, 150.50, 0)))
	require.NoError(t, c.Record(tick("AAPL", 65*time.Second, 150.75, 0)))

	var buckets []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionMinute, time.Time{}) {
		buckets = append(buckets, candle)
	}
	require.Len(t, buckets, 2)

	minute0 := buckets[0]
	assert.Equal(t, baseTime, minute0.Start)
	assert.Equal(t, 150.00, minute0.Open)
	assert.Equal(t, 150.50, minute0.Close)
	assert.Equal(t, 150.50, minute0.High)
	assert.Equal(t, 150.00, minute0.Low)

	minute1 := buckets[1]
	assert.Equal(t, baseTime.Add(time.Minute), minute1.Start)
	assert.Equal(t, 150.75, minute1.Open)
	assert.Equal(t, 150.75, minute1.Close)
}

func TestSeriesSinceFiltersAndRestarts(t *testing.T) {
	c := newTestCache(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Record(tick("AAPL", time.Duration(i)*time.Second, 150, 0)))
	}

	series := c.Series("AAPL", domain.ResolutionTick, baseTime.Add(3*time.Second))

	count := 0
	for range series {
		count++
	}
	assert.Equal(t, 2, count)

	// Restartable: a second iteration yields the same records.
	count = 0
	for range series {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestHighResWindowBoundedByMaxEntries(t *testing.T) {
	c := cache.New(cache.Config{
		HighResHorizon:      5 * time.Minute,
		HighResMaxEntries:   3,
		MinuteBucketHorizon: 24 * time.Hour,
	}, nil, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Record(tick("AAPL", time.Duration(i)*time.Second, float64(150+i), 0)))
	}

	var ticks []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionTick, time.Time{}) {
		ticks = append(ticks, candle)
	}
	require.Len(t, ticks, 3)
	assert.Equal(t, 157.0, ticks[0].Close)
	assert.Equal(t, 159.0, ticks[2].Close)
}

func TestEvictExpiredDropsHighResAndReturnsBuckets(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Record(tick("AAPL", 0, 150, 10)))
	require.NoError(t, c.Record(tick("AAPL", 30*time.Second, 151, 10)))
	require.NoError(t, c.Record(tick("AAPL", 25*time.Hour, 152, 10)))

	expired := c.EvictExpired(baseTime.Add(25*time.Hour + time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, "AAPL", expired[0].Ticker)
	assert.Equal(t, baseTime, expired[0].MinuteStart)
	assert.Equal(t, 151.0, expired[0].Close)
	assert.Equal(t, int64(20), expired[0].Volume)

	// The expired bucket is gone; the recent one survives.
	var buckets []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionMinute, time.Time{}) {
		buckets = append(buckets, candle)
	}
	require.Len(t, buckets, 1)
	assert.Equal(t, 152.0, buckets[0].Close)

	// High-resolution entries past the short horizon are dropped outright.
	var ticks []domain.Candle
	for candle := range c.Series("AAPL", domain.ResolutionTick, time.Time{}) {
		ticks = append(ticks, candle)
	}
	require.Len(t, ticks, 1)
	assert.Equal(t, 152.0, ticks[0].Close)
}

func TestConcurrentRecordAndRead(t *testing.T) {
	c := newTestCache(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// One serialized producer per ticker, concurrent across tickers.
	for i, ticker := range []string{"AAPL", "MSFT", "GOOG"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				require.NoError(t, c.Record(domain.PriceTick{
					Ticker:    ticker,
					Timestamp: baseTime.Add(time.Duration(j) * time.Second),
					Price:     100 + float64(i) + float64(j%7),
					Volume:    1,
				}))
			}
		}()
	}

	// Readers race the producers; every snapshot they observe must be
	// internally consistent.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				if tick, err := c.Latest("AAPL"); err == nil {
					assert.Equal(t, "AAPL", tick.Ticker)
				}

				prev := time.Time{}
				for candle := range c.Series("AAPL", domain.ResolutionTick, time.Time{}) {
					assert.True(t, candle.Start.After(prev), "tick timestamps out of order")
					prev = candle.Start
				}

				prev = time.Time{}
				for candle := range c.Series("AAPL", domain.ResolutionMinute, time.Time{}) {
					assert.True(t, candle.Start.After(prev), "bucket starts out of order")
					assert.GreaterOrEqual(t, candle.High, candle.Open)
					assert.GreaterOrEqual(t, candle.High, candle.Close)
					assert.LessOrEqual(t, candle.Low, candle.Open)
					assert.LessOrEqual(t, candle.Low, candle.Close)
					prev = candle.Start
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		close(stop)
	}()
	wg.Wait()
}

func TestConcurrentRecordSameTicker(t *testing.T) {
	c := newTestCache(t)

	// Competing producers on one ticker with distinct timestamps: the cache
	// serializes them, so exactly the accepted ticks appear, in order.
	var next atomic.Int64
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ts := baseTime.Add(time.Duration(next.Add(1)) * time.Millisecond)
				err := c.Record(domain.PriceTick{Ticker: "AAPL", Timestamp: ts, Price: 150, Volume: 1})
				if err == nil {
					accepted.Add(1)
				} else {
					require.ErrorIs(t, err, domain.ErrStaleTimestamp)
				}
			}
		}()
	}
	wg.Wait()

	var count int64
	prev := time.Time{}
	for candle := range c.Series("AAPL", domain.ResolutionTick, time.Time{}) {
		assert.True(t, candle.Start.After(prev))
		prev = candle.Start
		count++
	}
	assert.Equal(t, accepted.Load(), count)

	last, err := c.Latest("AAPL")
	require.NoError(t, err)
	assert.True(t, last.Timestamp.Equal(prev))
}

type capturingPublisher struct {
	events []domain.TickEvent
}

func (p *capturingPublisher) Publish(event domain.TickEvent) {
	p.events = append(p.events, event)
}

func TestRecordPublishesAcceptedTicks(t *testing.T) {
	publisher := &capturingPublisher{}
	c := cache.New(cache.Config{
		HighResHorizon:      5 * time.Minute,
		HighResMaxEntries:   300,
		MinuteBucketHorizon: 24 * time.Hour,
	}, publisher, nil)

	require.NoError(t, c.Record(tick("AAPL", 0, 150.00, 10)))
	require.NoError(t, c.Record(tick("AAPL", time.Second, 150.75, 20)))
	require.Error(t, c.Record(tick("AAPL", time.Second, 140.00, 30)))

	require.Len(t, publisher.events, 2)
	assert.Equal(t, 0.0, publisher.events[0].Change)
	assert.InDelta(t, 0.75, publisher.events[1].Change, 1e-9)
	assert.Equal(t, 150.75, publisher.events[1].Price)
	assert.Equal(t, int64(20), publisher.events[1].Volume)
}
