package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strconv"
	"time"
)

// Generator emits synthetic quotes for the configured tickers. Used when no
// upstream feed is configured (local development and demos).
type Generator struct {
	tickers  []string
	interval time.Duration
	handler  QuoteHandler
}

func NewGenerator(tickers []string, interval time.Duration, handler QuoteHandler) *Generator {
	return &Generator{
		tickers:  tickers,
		interval: interval,
		handler:  handler,
	}
}

func (g *Generator) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "starting synthetic quote generator", "tickers", g.tickers, "interval", g.interval)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(g.tickers))
	for _, t := range g.tickers {
		prices[t] = 50 + r.Float64()*200
	}

	tick := time.NewTicker(g.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			for _, t := range g.tickers {
				// Random walk, clamped above zero.
				prices[t] = max(0.01, prices[t]*(1+(r.Float64()-0.5)/100))
				g.handler(ctx, RawQuote{
					Ticker:    t,
					Price:     json.Number(strconv.FormatFloat(prices[t], 'f', 4, 64)),
					Volume:    json.Number(strconv.Itoa(r.Intn(10_000))),
					Timestamp: now.UTC().Format(time.RFC3339Nano),
				})
			}
		}
	}
}
