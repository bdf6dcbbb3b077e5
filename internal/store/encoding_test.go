package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

func TestEncodeDecodeDailyClose(t *testing.T) {
	in := domain.DailyClose{
		Date:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Close: 150.50,
	}

	buf := encodeDailyClose(in)
	require.Len(t, buf, closeByteSize)

	var out domain.DailyClose
	require.NoError(t, decodeDailyClose(buf, &out))
	assert.True(t, out.Date.Equal(in.Date))
	assert.Equal(t, in.Close, out.Close)
}

func TestDecodeUnwrittenSlot(t *testing.T) {
	var out domain.DailyClose
	err := decodeDailyClose(make([]byte, closeByteSize), &out)
	assert.ErrorIs(t, err, ErrCloseNotWritten)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	var out domain.DailyClose
	assert.Error(t, decodeDailyClose(make([]byte, closeByteSize-1), &out))
}
