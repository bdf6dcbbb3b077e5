package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/0xc0d3d00d/pricefeed/internal/broadcast"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// stream upgrades the connection and pushes every accepted tick for the
// ticker until the client disconnects or falls too far behind.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "ticker", ticker, "error", err)
		return
	}

	sub := h.broadcaster.Subscribe(ticker)
	slog.Info("subscriber connected", "ticker", ticker, "subscription_id", sub.ID)

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client messages; its job is to notice disconnects and
// answer pings. Closing the connection is the client's unsubscribe.
func (h *handler) readPump(conn *websocket.Conn, sub *broadcast.Subscription) {
	defer func() {
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the connection: tick events, pings, and the
// close frame. Transmission happens here, on the subscriber's own path, so a
// slow peer never delays ingestion or other subscribers.
func (h *handler) writePump(conn *websocket.Conn, sub *broadcast.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case <-sub.Done():
			if sub.Reason() == broadcast.ReasonSlowConsumer {
				deadline := time.Now().Add(writeWait)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
					deadline)
				slog.Info("slow consumer disconnected", "ticker", sub.Ticker, "subscription_id", sub.ID)
			}
			return
		case event := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
