package feed

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// RawQuote is the upstream wire shape. Feeds deliver price and volume as
// either JSON numbers or strings, and timestamps as RFC 3339 or unix
// seconds/milliseconds.
type RawQuote struct {
	Ticker    string      `json:"ticker"`
	Price     json.Number `json:"price"`
	Volume    json.Number `json:"volume"`
	Timestamp string      `json:"timestamp"`
}

// LastTimestampSource reports the most recent accepted timestamp per ticker.
// The cache implements it.
type LastTimestampSource interface {
	LastTimestamp(ticker string) (time.Time, bool)
}

// Normalizer validates raw quotes into canonical ticks. It holds no mutable
// state of its own; ordering checks read through the injected source.
type Normalizer struct {
	tickers      map[string]struct{}
	maxClockSkew time.Duration
	last         LastTimestampSource
	now          func() time.Time
}

func NewNormalizer(tickers []string, maxClockSkew time.Duration, last LastTimestampSource) *Normalizer {
	allowed := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		allowed[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}
	return &Normalizer{
		tickers:      allowed,
		maxClockSkew: maxClockSkew,
		last:         last,
		now:          time.Now,
	}
}

// Normalize returns the canonical tick or a domain.RejectError naming the
// reason. Rejections are reported, never silently dropped.
func (n *Normalizer) Normalize(raw RawQuote) (domain.PriceTick, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw.Ticker))
	if ticker == "" {
		return domain.PriceTick{}, domain.Reject(domain.ErrUnknownTicker)
	}
	if len(n.tickers) > 0 {
		if _, ok := n.tickers[ticker]; !ok {
			return domain.PriceTick{}, domain.Reject(domain.ErrUnknownTicker)
		}
	}

	price, err := raw.Price.Float64()
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return domain.PriceTick{}, domain.Reject(domain.ErrInvalidPrice)
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return domain.PriceTick{}, domain.Reject(domain.ErrInvalidTimestamp)
	}
	if ts.After(n.now().Add(n.maxClockSkew)) {
		return domain.PriceTick{}, domain.Reject(domain.ErrFutureTimestamp)
	}
	if last, ok := n.last.LastTimestamp(ticker); ok && !ts.After(last) {
		return domain.PriceTick{}, domain.Reject(domain.ErrStaleTimestamp)
	}

	// Missing or malformed volume defaults to zero.
	volume, err := raw.Volume.Int64()
	if err != nil || volume < 0 {
		volume = 0
	}

	return domain.PriceTick{
		Ticker:    ticker,
		Timestamp: ts,
		Price:     price,
		Volume:    volume,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}

	var unix json.Number = json.Number(s)
	sec, err := unix.Int64()
	if err != nil {
		return time.Time{}, domain.ErrInvalidTimestamp
	}
	// Heuristic: values this large can only be milliseconds.
	if sec > 1e12 {
		return time.UnixMilli(sec).UTC(), nil
	}
	return time.Unix(sec, 0).UTC(), nil
}
