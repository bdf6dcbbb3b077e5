package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/store"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	want := domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 15), Close: 150.50}
	require.NoError(t, s.UpsertDailyClose(ctx, want))

	closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, want, closes[0])
}

func TestFileStoreUpsertOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.UpsertDailyClose(ctx, domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 15), Close: 150.50}))
	require.NoError(t, s.UpsertDailyClose(ctx, domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 15), Close: 151.25}))

	closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 15), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, 151.25, closes[0].Close)
}

func TestFileStoreTruncatesDateToMidnightUTC(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	stamped := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertDailyClose(ctx, domain.DailyClose{Ticker: "AAPL", Date: stamped, Close: 150.50}))

	closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 15), day(2024, 1, 15))
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, day(2024, 1, 15), closes[0].Date)
}

func TestFileStoreRangeAndOrdering(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	// Written out of order, across a year boundary.
	for _, dc := range []domain.DailyClose{
		{Ticker: "AAPL", Date: day(2024, 1, 2), Close: 151},
		{Ticker: "AAPL", Date: day(2023, 12, 29), Close: 149},
		{Ticker: "AAPL", Date: day(2024, 1, 1), Close: 150},
		{Ticker: "AAPL", Date: day(2024, 1, 10), Close: 155},
		{Ticker: "MSFT", Date: day(2024, 1, 1), Close: 400},
	} {
		require.NoError(t, s.UpsertDailyClose(ctx, dc))
	}

	closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2023, 12, 29), day(2024, 1, 2))
	require.NoError(t, err)
	require.Len(t, closes, 3)
	assert.Equal(t, day(2023, 12, 29), closes[0].Date)
	assert.Equal(t, day(2024, 1, 1), closes[1].Date)
	assert.Equal(t, day(2024, 1, 2), closes[2].Date)
	for _, dc := range closes {
		assert.Equal(t, "AAPL", dc.Ticker)
	}
}

func TestFileStoreUnknownTickerReadsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	closes, err := s.ReadDailyCloses(context.Background(), "NVDA", day(2024, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)
	assert.Empty(t, closes)
}

func TestFileStoreConcurrentReads(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var want []domain.DailyClose
	for d := 1; d <= 20; d++ {
		dc := domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, d), Close: 150 + float64(d)}
		require.NoError(t, s.UpsertDailyClose(ctx, dc))
		want = append(want, dc)
	}

	// Concurrent readers share one year-file handle; they must not disturb
	// each other's position in it.
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 1), day(2024, 1, 20))
				if err != nil {
					errs <- err
					return
				}
				if len(closes) != len(want) {
					errs <- fmt.Errorf("read %d closes, want %d", len(closes), len(want))
					return
				}
				for k, dc := range closes {
					if dc != want[k] {
						errs <- fmt.Errorf("close %d: got %+v, want %+v", k, dc, want[k])
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestFileStoreReadsDuringUpserts(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.UpsertDailyClose(ctx, domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 1), Close: 150}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for d := 2; d <= 30; d++ {
			_ = s.UpsertDailyClose(ctx, domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, d), Close: 150 + float64(d)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			closes, err := s.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 1), day(2024, 1, 31))
			assert.NoError(t, err)
			// Day 1 was written before the readers started; every snapshot
			// must include it intact.
			assert.NotEmpty(t, closes)
			if len(closes) > 0 {
				assert.Equal(t, domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 1), Close: 150}, closes[0])
			}
		}
	}()
	wg.Wait()
}

func TestFileStoreReopensExistingData(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	s, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	want := domain.DailyClose{Ticker: "AAPL", Date: day(2024, 1, 15), Close: 150.50}
	require.NoError(t, s.UpsertDailyClose(ctx, want))
	require.NoError(t, s.Close())

	reopened, err := store.NewFileStore(fs, "data")
	require.NoError(t, err)
	defer reopened.Close()

	closes, err := reopened.ReadDailyCloses(ctx, "AAPL", day(2024, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)
	require.Len(t, closes, 1)
	assert.Equal(t, want, closes[0])
}
