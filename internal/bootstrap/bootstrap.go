// Package bootstrap opens the row store described by the configuration and
// assembles the services on top of it. Both binaries start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/config"
	"github.com/venux/panel/backend/internal/feed"
	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/service/fetcher"
	"github.com/venux/panel/backend/internal/service/live"
	"github.com/venux/panel/backend/internal/service/mutation"
	"github.com/venux/panel/backend/internal/service/view"
	"github.com/venux/panel/backend/internal/store"
	"github.com/venux/panel/backend/internal/store/memory"
	"github.com/venux/panel/backend/internal/store/postgres"
	"github.com/venux/panel/backend/internal/store/sqlite"
)

// Backend is an opened store plus everything that has to be shut down with it.
type Backend struct {
	Store store.Store

	closers []func() error
}

// Close releases the store and the change feed, newest first.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured driver, wraps it with the RabbitMQ change
// feed when AMQP_URL is set and seeds the demo tenant if asked to.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	inner, err := openDriver(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	b := &Backend{Store: inner, closers: []func() error{inner.Close}}

	if cfg.Feed.Enabled() {
		if err := b.attachFeed(ctx, cfg.Feed, logger); err != nil {
			_ = b.Close()
			return nil, err
		}
	}

	if cfg.Store.SeedDemo {
		if err := seedOnce(ctx, b.Store, inner, logger); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	return b, nil
}

func openDriver(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	log := logger.Named("store")
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewStore(log), nil
	case config.DriverSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (b *Backend) attachFeed(ctx context.Context, cfg config.FeedConfig, logger *zap.Logger) error {
	log := logger.Named("feed")
	opts := feed.ConnectionOptions{
		URL:           cfg.URL,
		RetryAttempts: cfg.RetryAttempts,
		Delay:         time.Second,
		Logger:        log,
	}

	conn, err := feed.DialWithRetry(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect change feed: %w", err)
	}
	b.closers = append(b.closers, conn.Close)

	publisher, err := feed.NewPublisher(conn, cfg.Exchange, log)
	if err != nil {
		log.Warn("change feed publisher unavailable, writes stay local", zap.Error(err))
		publisher = feed.NewFallback(log)
	}
	b.closers = append(b.closers, publisher.Close)

	hub := store.NewHub(log)
	consumer := feed.NewConsumer(opts, cfg.Exchange, hub)
	consumer.Start(context.WithoutCancel(ctx))
	b.closers = append(b.closers, consumer.Close, func() error { hub.Close(); return nil })

	b.Store = feed.NewStore(b.Store, publisher, hub, producerName(), log)
	log.Info("change feed attached", zap.String("exchange", cfg.Exchange))
	return nil
}

func producerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "venux-panel"
	}
	return host
}

// seedOnce loads the demo tenant unless it is already present, so restarts
// against a persistent database do not collide on primary keys.
func seedOnce(ctx context.Context, s store.Store, backend store.Store, logger *zap.Logger) error {
	dst, ok := backend.(store.Inserter)
	if !ok {
		return errors.New("store driver cannot be seeded")
	}
	rows, err := s.Select(ctx, store.TableSessions, store.Where(store.Eq("id", store.DemoTenant)))
	if err != nil {
		return fmt.Errorf("check demo tenant: %w", err)
	}
	if len(rows) > 0 {
		return nil
	}
	if err := store.Seed(ctx, dst, time.Now()); err != nil {
		return err
	}
	logger.Info("demo tenant seeded", zap.String("tid", store.DemoTenant))
	return nil
}

// Services are the panel services over one store.
type Services struct {
	Fetcher   *fetcher.Fetcher
	Live      *live.Subscriber
	Submitter *mutation.Submitter
	Views     view.Factory
}

// NewServices wires the fetcher, live subscriber and submitter into a view
// factory using the view settings from cfg.
func NewServices(s store.Store, cfg config.ViewConfig, logger *zap.Logger, m *metrics.Metrics) Services {
	f := fetcher.New(s, logger, m)
	sub := live.NewSubscriber(s, logger, m)
	mut := mutation.NewSubmitter(s, logger, m)
	return Services{
		Fetcher:   f,
		Live:      sub,
		Submitter: mut,
		Views: view.Factory{
			Deps: view.Deps{
				Fetcher:   f,
				Live:      sub,
				Submitter: mut,
				Logger:    logger,
				Metrics:   m,
			},
			Options: view.Options{
				FetchTimeout: cfg.FetchTimeout,
				Location:     cfg.Location,
			},
		},
	}
}
