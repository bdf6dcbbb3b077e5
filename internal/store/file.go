package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// One slot per day of the year; leap years fit.
const slotsPerYear = 366

const (
	openRW     = os.O_RDWR
	openCreate = os.O_CREATE
)

type closeFileKey struct {
	ticker string
	year   int
}

// FileStore keeps daily closes in fixed-width binary year files, one
// directory per ticker:
//
//	data
//	- AAPL
//	  - 2024.bin
//	  - 2025.bin
//
// Each file holds 366 slots addressed by day of year, so an upsert is a
// single seek and write. Backed by afero so tests run on an in-memory fs.
type FileStore struct {
	fs      afero.Fs
	dataDir string

	mu    sync.RWMutex
	files map[closeFileKey]afero.File
}

func NewFileStore(fs afero.Fs, dataDir string) (*FileStore, error) {
	exists, err := afero.DirExists(fs, dataDir)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := fs.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	tickers, err := afero.ReadDir(fs, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	files := make(map[closeFileKey]afero.File)
	for _, tickerDir := range tickers {
		if !tickerDir.IsDir() {
			continue
		}
		yearFiles, err := afero.ReadDir(fs, path.Join(dataDir, tickerDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read ticker directory: %w", err)
		}

		for _, yearFile := range yearFiles {
			name := strings.TrimSuffix(yearFile.Name(), path.Ext(yearFile.Name()))
			year, err := strconv.Atoi(name)
			if err != nil {
				return nil, fmt.Errorf("invalid close file name `%s`: %w", yearFile.Name(), err)
			}

			f, err := fs.OpenFile(path.Join(dataDir, tickerDir.Name(), yearFile.Name()), openRW, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open close file: %w", err)
			}

			files[closeFileKey{ticker: tickerDir.Name(), year: year}] = f
		}
	}

	return &FileStore{
		fs:      fs,
		dataDir: dataDir,
		files:   files,
	}, nil
}

func (s *FileStore) UpsertDailyClose(ctx context.Context, close domain.DailyClose) error {
	date := close.Date.UTC().Truncate(24 * time.Hour)
	close.Date = date

	f, err := s.file(closeFileKey{ticker: close.Ticker, year: date.Year()})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := int64(date.YearDay()-1) * closeByteSize
	encoded := encodeDailyClose(close)
	written, err := f.WriteAt(encoded, offset)
	if written != closeByteSize && err == nil {
		err = io.ErrShortWrite
	}
	return err
}

func (s *FileStore) ReadDailyCloses(ctx context.Context, ticker string, from, to time.Time) ([]domain.DailyClose, error) {
	from = from.UTC()
	to = to.UTC()

	var closes []domain.DailyClose
	for year := from.Year(); year <= to.Year(); year++ {
		yearCloses, err := s.readYear(ticker, year, from, to)
		if err != nil {
			return nil, err
		}
		closes = append(closes, yearCloses...)
	}

	sort.Slice(closes, func(i, j int) bool {
		return closes[i].Date.Before(closes[j].Date)
	})

	return closes, nil
}

func (s *FileStore) readYear(ticker string, year int, from, to time.Time) ([]domain.DailyClose, error) {
	s.mu.RLock()
	f, ok := s.files[closeFileKey{ticker: ticker, year: year}]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	defer s.mu.RUnlock()

	// ReadAt keeps concurrent readers off the handle's shared offset, so
	// they can proceed in parallel under the read lock.
	encoded := make([]byte, slotsPerYear*closeByteSize)
	if _, err := f.ReadAt(encoded, 0); err != nil {
		return nil, fmt.Errorf("failed to read close file: %w", err)
	}

	var closes []domain.DailyClose
	for i := 0; i < slotsPerYear; i++ {
		var close domain.DailyClose
		err := decodeDailyClose(encoded[i*closeByteSize:(i+1)*closeByteSize], &close)
		if err == ErrCloseNotWritten {
			continue
		}
		if err != nil {
			return nil, err
		}
		if close.Date.Before(from) || close.Date.After(to) {
			continue
		}

		close.Ticker = ticker
		closes = append(closes, close)
	}

	return closes, nil
}

// file returns the open year file for the key, allocating a zero-filled one
// when the (ticker, year) pair is seen for the first time.
func (s *FileStore) file(key closeFileKey) (afero.File, error) {
	s.mu.RLock()
	f, ok := s.files[key]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok = s.files[key]; ok {
		return f, nil
	}

	tickerDir := path.Join(s.dataDir, key.ticker)
	exists, err := afero.DirExists(s.fs, tickerDir)
	if err != nil {
		return nil, fmt.Errorf("failed to check ticker directory: %w", err)
	}
	if !exists {
		if err := s.fs.MkdirAll(tickerDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ticker directory: %w", err)
		}
	}

	f, err = s.fs.OpenFile(path.Join(tickerDir, fmt.Sprintf("%d.bin", key.year)), openRW|openCreate, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create close file: %w", err)
	}

	zeros := make([]byte, closeByteSize)
	for i := 0; i < slotsPerYear; i++ {
		n, err := f.Write(zeros)
		if n != closeByteSize && err == nil {
			err = io.ErrShortWrite
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write zeros to the close file: %w", err)
		}
	}

	s.files[key] = f
	return f, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := afero.DirExists(s.fs, s.dataDir)
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[closeFileKey]afero.File)
	return firstErr
}
