// Package relay republishes accepted ticks to Redis pub/sub channels so
// out-of-process consumers (other gateway instances, dashboards) can follow
// the live feed without speaking this service's websocket protocol.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/0xc0d3d00d/pricefeed/internal/broadcast"
)

const channelPrefix = "prices:"

// RedisRelay consumes one subscription per ticker from the broadcaster and
// publishes every event to the ticker's Redis channel.
type RedisRelay struct {
	client      *redis.Client
	broadcaster *broadcast.Broadcaster
	tickers     []string
}

func NewRedisRelay(addr, password string, db int, broadcaster *broadcast.Broadcaster, tickers []string) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRelay{
		client:      client,
		broadcaster: broadcaster,
		tickers:     tickers,
	}, nil
}

func (r *RedisRelay) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "starting redis relay", "tickers", r.tickers)

	g, ctx := errgroup.WithContext(ctx)
	for _, ticker := range r.tickers {
		g.Go(func() error {
			return r.relayTicker(ctx, ticker)
		})
	}
	return g.Wait()
}

func (r *RedisRelay) relayTicker(ctx context.Context, ticker string) error {
	sub := r.broadcaster.Subscribe(ticker)
	defer func() { r.broadcaster.Unsubscribe(sub) }()

	channel := channelPrefix + ticker
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			// Force-closed as a slow consumer (e.g. redis outage backed the
			// buffer up). Resubscribing immediately with a fresh buffer is
			// allowed; intermediate events are lost by policy.
			slog.WarnContext(ctx, "redis relay subscription closed, resubscribing",
				"ticker", ticker, "reason", sub.Reason())
			r.broadcaster.Unsubscribe(sub)
			sub = r.broadcaster.Subscribe(ticker)
		case event := <-sub.Events():
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal tick event: %w", err)
			}
			if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
				slog.ErrorContext(ctx, "failed to publish tick to redis",
					"channel", channel, "error", err)
			}
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
