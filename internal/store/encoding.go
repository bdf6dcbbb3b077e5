package store

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

const closeByteSize = 17

var ErrCloseNotWritten = errors.New("daily close not written")

func encodeDailyClose(close domain.DailyClose) []byte {
	buf := make([]byte, closeByteSize)

	binary.LittleEndian.PutUint64(buf, uint64(close.Date.UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(close.Close))
	// indicates the slot is written
	buf[16] = 1

	return buf
}

func decodeDailyClose(buf []byte, close *domain.DailyClose) error {
	if len(buf) != closeByteSize {
		return errors.New("invalid buffer size")
	}
	if buf[16] == 0 {
		return ErrCloseNotWritten
	}

	timestamp := binary.LittleEndian.Uint64(buf[:8])
	close.Date = time.Unix(0, int64(timestamp)).UTC()
	close.Close = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))

	return nil
}
