package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 30 * time.Second
	feedPingPeriod = 25 * time.Second
)

// QuoteHandler consumes one raw quote. It must not block on network I/O.
type QuoteHandler func(ctx context.Context, raw RawQuote)

// Client reads raw quotes from an upstream websocket feed. The feed is a
// best-effort push source: duplicates, reordering and disconnects are
// expected and survived. Pings keep the connection alive through quiet
// stretches; only a peer that stops answering them is torn down.
type Client struct {
	url     string
	handler QuoteHandler

	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(url string, handler QuoteHandler) *Client {
	return &Client{
		url:        url,
		handler:    handler,
		pongWait:   feedPongWait,
		pingPeriod: feedPingPeriod,
	}
}

// Run reads quotes until ctx is cancelled, reconnecting with capped
// exponential backoff after any connection failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "feed connect failed", "url", c.url, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		err = c.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.WarnContext(ctx, "feed connection lost, reconnecting", "url", c.url, "error", err)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	slog.InfoContext(ctx, "connecting to feed", "url", c.url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Pings on a ticker; closes the connection to unblock ReadMessage when
	// the context is cancelled or the peer stops answering.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ping := time.NewTicker(c.pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var raw RawQuote
		if err := json.Unmarshal(message, &raw); err != nil {
			slog.WarnContext(ctx, "unparseable feed message", "error", err)
			continue
		}

		c.handler(ctx, raw)
	}
}
