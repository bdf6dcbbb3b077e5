// Package store holds the durable-store adapters for finalized daily
// closes. The archiver writes through Store; the query facade reads through
// it when a range predates what the cache retains.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

var ErrNoCloses = fmt.Errorf("%w: no daily closes found", domain.ErrNotFound)

type Store interface {
	UpsertDailyClose(ctx context.Context, close domain.DailyClose) error
	ReadDailyCloses(ctx context.Context, ticker string, from, to time.Time) ([]domain.DailyClose, error)
	Ping(ctx context.Context) error
	Close() error
}
