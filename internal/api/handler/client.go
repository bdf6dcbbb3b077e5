package handler

import (
	"context"
	"iter"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/broadcast"
	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// Interface requirements for the tiered cache
type priceCache interface {
	Latest(ticker string) (domain.PriceTick, error)
	Series(ticker string, resolution domain.Resolution, since time.Time) iter.Seq[domain.Candle]
	Tickers() []string
}

// Interface requirements for the range-query facade
type rangeQuerier interface {
	Query(ctx context.Context, ticker string, from, to time.Time) ([]domain.Candle, error)
}

// Interface requirements for the durable store's read side
type historyReader interface {
	ReadDailyCloses(ctx context.Context, ticker string, from, to time.Time) ([]domain.DailyClose, error)
}

// Interface requirements for the live broadcaster
type tickBroadcaster interface {
	Subscribe(ticker string) *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}
