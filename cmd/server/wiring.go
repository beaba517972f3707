package main

import (
	"context"
	"fmt"
	"io"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/billing/store"
	"github.com/warp/lease-billing/config"
	"github.com/warp/lease-billing/events"
	"github.com/warp/lease-billing/logger"
	"github.com/warp/lease-billing/store/postgres"
	"github.com/warp/lease-billing/store/sqlite"
)

// backend is an opened store with its lifecycle hooks.
type backend struct {
	store billing.TxStore
	ping  func(ctx context.Context) error
	close func() error
}

// openStore opens the configured store. Postgres is migrated only when
// migrate is set; SQLite always migrates on open.
func openStore(ctx context.Context, c *config.Config, migrate bool) (*backend, error) {
	switch c.StoreDriver {
	case config.DriverMemory:
		return &backend{
			store: store.NewTxMemory(),
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, ping: s.Ping, close: s.Close}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		s := postgres.New(pool)
		return &backend{store: s, ping: s.Ping, close: s.Close}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
}

// newPublisher returns a Kafka publisher when brokers are configured,
// otherwise events go to the log.
func newPublisher(c *config.Config) (events.Publisher, io.Closer) {
	if len(c.KafkaBrokers) == 0 {
		return events.LogPublisher{Logger: logger.WithComponent("events")}, nil
	}
	p := events.NewKafkaPublisher(events.KafkaConfig{Brokers: c.KafkaBrokers, Topic: c.KafkaTopic})
	return p, p
}

// newEngine builds the engine from configuration.
func newEngine(c *config.Config, s billing.TxStore, pub events.Publisher) (*billing.Engine, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	limits, err := c.Limits()
	if err != nil {
		return nil, err
	}
	engine := billing.NewEngine(s, billing.SystemClock{Location: loc})
	engine.Limits = limits
	engine.Publisher = pub
	engine.Logger = logger.WithComponent("engine")
	return engine, nil
}
