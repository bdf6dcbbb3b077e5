package domain

import "time"

// Candle is the unified read shape for series and range queries. A raw tick
// reads as a degenerate candle with open=high=low=close.
type Candle struct {
	Ticker     string
	Resolution Resolution
	Start      time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
}

func (t PriceTick) Candle() Candle {
	return Candle{
		Ticker:     t.Ticker,
		Resolution: ResolutionTick,
		Start:      t.Timestamp,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Volume,
	}
}

func (b MinuteBucket) Candle() Candle {
	return Candle{
		Ticker:     b.Ticker,
		Resolution: ResolutionMinute,
		Start:      b.MinuteStart,
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
	}
}

func (d DailyClose) Candle() Candle {
	return Candle{
		Ticker:     d.Ticker,
		Resolution: ResolutionDay,
		Start:      d.Date,
		Open:       d.Close,
		High:       d.Close,
		Low:        d.Close,
		Close:      d.Close,
	}
}
