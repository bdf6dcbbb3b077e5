package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/0xc0d3d00d/pricefeed/internal/api/handler"
	"github.com/0xc0d3d00d/pricefeed/internal/api/server"
	"github.com/0xc0d3d00d/pricefeed/internal/archive"
	"github.com/0xc0d3d00d/pricefeed/internal/broadcast"
	"github.com/0xc0d3d00d/pricefeed/internal/cache"
	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/feed"
	"github.com/0xc0d3d00d/pricefeed/internal/query"
	"github.com/0xc0d3d00d/pricefeed/internal/relay"
	"github.com/0xc0d3d00d/pricefeed/internal/store"
	"github.com/0xc0d3d00d/pricefeed/internal/telemetry"
)

type config struct {
	ListenAddress string   `env:"ADDR" envDefault:":6970"`
	FeedURL       string   `env:"FEED_URL"`
	Tickers       []string `env:"TICKERS" envSeparator:"," envDefault:"AAPL,MSFT,GOOG,TSLA"`

	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HighResHorizon       time.Duration `env:"HIGH_RES_HORIZON" envDefault:"5m"`
	HighResMaxEntries    int           `env:"HIGH_RES_MAX_ENTRIES" envDefault:"300"`
	MinuteBucketHorizon  time.Duration `env:"MINUTE_BUCKET_HORIZON" envDefault:"24h"`
	ArchiveRetryLimit    int           `env:"ARCHIVE_RETRY_LIMIT" envDefault:"5"`
	SubscriberBufferSize int           `env:"SUBSCRIBER_BUFFER_SIZE" envDefault:"64"`
	MaxConsecutiveDrops  int           `env:"MAX_CONSECUTIVE_DROPS" envDefault:"32"`
	MaxClockSkew         time.Duration `env:"MAX_CLOCK_SKEW" envDefault:"5s"`
	MaintenanceInterval  time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"1m"`
	GeneratorInterval    time.Duration `env:"GENERATOR_INTERVAL" envDefault:"1s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.DateTime,
		}),
	))

	cfg := config{}
	err := loadConfig(&cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	exporter, err := otelprometheus.New()
	if err != nil {
		slog.ErrorContext(ctx, "failed to create metrics exporter", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	if err != nil {
		slog.ErrorContext(ctx, "failed to create metrics", "error", err)
		os.Exit(1)
	}

	durable, err := newStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create durable store", "error", err)
		os.Exit(1)
	}
	defer durable.Close()

	broadcaster := broadcast.New(broadcast.Config{
		BufferSize:          cfg.SubscriberBufferSize,
		MaxConsecutiveDrops: cfg.MaxConsecutiveDrops,
	}, metrics)

	priceCache := cache.New(cache.Config{
		HighResHorizon:      cfg.HighResHorizon,
		HighResMaxEntries:   cfg.HighResMaxEntries,
		MinuteBucketHorizon: cfg.MinuteBucketHorizon,
	}, broadcaster, metrics)

	normalizer := feed.NewNormalizer(cfg.Tickers, cfg.MaxClockSkew, priceCache)
	archiver := archive.New(durable, archive.Config{RetryLimit: cfg.ArchiveRetryLimit}, metrics, nil)
	maintenance := archive.NewMaintenance(priceCache, archiver, cfg.MaintenanceInterval)
	facade := query.New(priceCache, durable)

	apiHandler := handler.NewHandler(priceCache, facade, durable, broadcaster)
	apiServer, err := server.New(ctx, cfg.ListenAddress, apiHandler.Register)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create server", "error", err)
		os.Exit(1)
	}

	ingest := newIngest(normalizer, priceCache, metrics)

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		slog.InfoContext(ctx, "starting server", "listen_address", cfg.ListenAddress)
		if err := runHttpServer(gCtx, cfg.ListenAddress, apiServer); err != nil {
			slog.ErrorContext(ctx, "failed to start server", "error", err)
			cancel()
			return err
		}
		return nil
	})

	// Start the upstream feed, or the synthetic generator when none is
	// configured
	g.Go(func() error {
		var err error
		if cfg.FeedURL != "" {
			err = feed.NewClient(cfg.FeedURL, ingest).Run(gCtx)
		} else {
			err = feed.NewGenerator(cfg.Tickers, cfg.GeneratorInterval, ingest).Run(gCtx)
		}
		return ignoreCanceled(err)
	})

	// Start eviction/archival maintenance
	g.Go(func() error {
		return ignoreCanceled(maintenance.Run(gCtx))
	})

	// Start redis relay when configured
	if cfg.RedisAddr != "" {
		redisRelay, err := relay.NewRedisRelay(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, broadcaster, cfg.Tickers)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create redis relay", "error", err)
			os.Exit(1)
		}
		defer redisRelay.Close()
		g.Go(func() error {
			return ignoreCanceled(redisRelay.Run(gCtx))
		})
	}

	// Handle graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down server gracefully")

		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "err", err)
	}
}

// newIngest binds the normalizer to the cache: every raw quote is validated
// and, when accepted, recorded (which also publishes it to subscribers).
// Rejections are counted and reported, never fatal to the ingestion loop.
func newIngest(normalizer *feed.Normalizer, priceCache *cache.Cache, metrics *telemetry.Metrics) feed.QuoteHandler {
	return func(ctx context.Context, raw feed.RawQuote) {
		tick, err := normalizer.Normalize(raw)
		if err != nil {
			metrics.TicksRejected.Add(ctx, 1, telemetry.Reason(rejectReason(err)))
			slog.DebugContext(ctx, "quote rejected", "ticker", raw.Ticker, "reason", err)
			return
		}

		if err := priceCache.Record(tick); err != nil {
			slog.DebugContext(ctx, "tick rejected by cache", "ticker", tick.Ticker, "reason", err)
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownTicker):
		return "unknown_ticker"
	case errors.Is(err, domain.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, domain.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, domain.ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, domain.ErrFutureTimestamp):
		return "future_timestamp"
	default:
		return "unknown"
	}
}

func newStore(ctx context.Context, cfg config) (store.Store, error) {
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.InitSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	}
	return store.NewFileStore(afero.NewOsFs(), cfg.DataDir)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHttpServer(ctx context.Context, listenAddress string, srv *server.Server) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return err
	}

	err = srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func loadConfig(config any) error {
	// Ignore error if .env is missing
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// Parse for built-in types
	if err := env.Parse(config); err != nil {
		return err
	}

	return nil
}
