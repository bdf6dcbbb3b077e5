package domain

import "time"

// PriceTick is a single accepted quote. Immutable once created.
type PriceTick struct {
	Ticker    string
	Timestamp time.Time
	Price     float64
	Volume    int64
}

// MinuteBucket aggregates all ticks of one ticker whose timestamps fall in
// the minute starting at MinuteStart.
type MinuteBucket struct {
	Ticker      string
	MinuteStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int64
}

// NewMinuteBucket opens a bucket from the first tick of its minute.
func NewMinuteBucket(tick PriceTick) *MinuteBucket {
	return &MinuteBucket{
		Ticker:      tick.Ticker,
		MinuteStart: tick.Timestamp.Truncate(time.Minute),
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.Volume,
	}
}

// Fold merges a subsequent tick into the bucket: high/low widen, close is
// replaced, volume sums. Open is fixed by the first tick.
func (b *MinuteBucket) Fold(tick PriceTick) {
	if tick.Price > b.High {
		b.High = tick.Price
	}
	if tick.Price < b.Low {
		b.Low = tick.Price
	}
	b.Close = tick.Price
	b.Volume += tick.Volume
}

// DailyClose is the durable artifact handed to the store. Date is truncated
// to midnight UTC.
type DailyClose struct {
	Ticker string
	Date   time.Time
	Close  float64
}

// TickEvent is the wire shape pushed to live subscribers. Change is the
// price delta from the previously accepted tick of the same ticker.
type TickEvent struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
