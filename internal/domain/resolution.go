package domain

import (
	"errors"
	"time"
)

var ErrInvalidResolution = errors.New("invalid resolution")

// Resolution is the granularity of a price series. The cache serves tick and
// minute data; day candles come from the durable store.
type Resolution time.Duration

const (
	ResolutionTick   Resolution = 0
	ResolutionMinute Resolution = Resolution(time.Minute)
	ResolutionDay    Resolution = Resolution(time.Hour * 24)
)

func (r Resolution) String() string {
	return resolutionToString[r]
}

func ParseResolution(s string) (Resolution, error) {
	r, ok := stringToResolution[s]
	if !ok {
		return 0, ErrInvalidResolution
	}
	return r, nil
}

var resolutionToString = map[Resolution]string{
	ResolutionTick:   "tick",
	ResolutionMinute: "m1",
	ResolutionDay:    "d1",
}

var stringToResolution = map[string]Resolution{
	"tick":   ResolutionTick,
	"high":   ResolutionTick,
	"m1":     ResolutionMinute,
	"minute": ResolutionMinute,
	"d1":     ResolutionDay,
	"day":    ResolutionDay,
}
