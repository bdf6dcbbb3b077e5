package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

type handler struct {
	cache       priceCache
	facade      rangeQuerier
	history     historyReader
	broadcaster tickBroadcaster
}

func NewHandler(cache priceCache, facade rangeQuerier, history historyReader, broadcaster tickBroadcaster) *handler {
	return &handler{
		cache:       cache,
		facade:      facade,
		history:     history,
		broadcaster: broadcaster,
	}
}

func (h *handler) Register(r *mux.Router) {
	r.HandleFunc("/prices/latest/{ticker}", h.latest).Methods(http.MethodGet)
	r.HandleFunc("/prices/series/{ticker}", h.series).Methods(http.MethodGet)
	r.HandleFunc("/prices/query/{ticker}", h.query).Methods(http.MethodGet)
	r.HandleFunc("/prices/history/{ticker}", h.historical).Methods(http.MethodGet)
	r.HandleFunc("/prices/summary", h.summary).Methods(http.MethodGet)
	r.HandleFunc("/prices/ws/{ticker}", h.stream).Methods(http.MethodGet)
}

type tickResponse struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type candleResponse struct {
	Ticker     string    `json:"ticker"`
	Resolution string    `json:"resolution"`
	Start      time.Time `json:"start"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
}

func toCandleResponse(c domain.Candle) candleResponse {
	return candleResponse{
		Ticker:     c.Ticker,
		Resolution: c.Resolution.String(),
		Start:      c.Start,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
	}
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	tick, err := h.cache.Latest(ticker)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tickResponse{
		Ticker:    tick.Ticker,
		Price:     tick.Price,
		Volume:    tick.Volume,
		Timestamp: tick.Timestamp,
	})
}

func (h *handler) series(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	resolution, err := domain.ParseResolution(r.URL.Query().Get("resolution"))
	if err != nil || resolution == domain.ResolutionDay {
		http.Error(w, "resolution must be tick or minute", http.StatusBadRequest)
		return
	}

	since := time.Time{}
	if s := r.URL.Query().Get("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "since must be RFC 3339", http.StatusBadRequest)
			return
		}
	}

	candles := []candleResponse{}
	for candle := range h.cache.Series(ticker, resolution, since) {
		candles = append(candles, toCandleResponse(candle))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":  ticker,
		"candles": candles,
	})
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "from must be RFC 3339", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "to must be RFC 3339", http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, "to must not precede from", http.StatusBadRequest)
		return
	}

	candles, err := h.facade.Query(r.Context(), ticker, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]candleResponse, 0, len(candles))
	for _, candle := range candles {
		out = append(out, toCandleResponse(candle))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":  ticker,
		"candles": out,
	})
}

func (h *handler) historical(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	closes, err := h.history.ReadDailyCloses(r.Context(), ticker, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	type closeResponse struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	}
	out := make([]closeResponse, 0, len(closes))
	for _, dc := range closes {
		out = append(out, closeResponse{Date: dc.Date.Format(time.DateOnly), Close: dc.Close})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticker": ticker,
		"days":   days,
		"prices": out,
	})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	tickers := h.cache.Tickers()
	sort.Strings(tickers)

	ticks := make([]tickResponse, 0, len(tickers))
	for _, ticker := range tickers {
		tick, err := h.cache.Latest(ticker)
		if err != nil {
			continue
		}
		ticks = append(ticks, tickResponse{
			Ticker:    tick.Ticker,
			Price:     tick.Price,
			Volume:    tick.Volume,
			Timestamp: tick.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"tickers":   ticks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
