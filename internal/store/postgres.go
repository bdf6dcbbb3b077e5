package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
)

// PostgresStore persists daily closes in Postgres. The table is the only
// long-term artifact this subsystem produces.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS daily_closes (
		ticker VARCHAR(16) NOT NULL,
		date DATE NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP DEFAULT NOW(),
		PRIMARY KEY (ticker, date)
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) UpsertDailyClose(ctx context.Context, close domain.DailyClose) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_closes (ticker, date, close)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker, date) DO UPDATE SET close = EXCLUDED.close`,
		close.Ticker, close.Date.UTC().Truncate(24*time.Hour), close.Close,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily close: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadDailyCloses(ctx context.Context, ticker string, from, to time.Time) ([]domain.DailyClose, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, close FROM daily_closes
		WHERE ticker = $1 AND date >= $2 AND date <= $3
		ORDER BY date`,
		ticker, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily closes: %w", err)
	}
	defer rows.Close()

	var closes []domain.DailyClose
	for rows.Next() {
		dc := domain.DailyClose{Ticker: ticker}
		if err := rows.Scan(&dc.Date, &dc.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily close: %w", err)
		}
		dc.Date = dc.Date.UTC()
		closes = append(closes, dc)
	}

	return closes, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
