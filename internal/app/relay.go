package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/outbox"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/postgres"
)

// RunRelay publishes outbox events to the AMQP exchange until ctx is
// cancelled.
func RunRelay(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing outbox relay", zap.String("exchange", cfg.AMQP.Exchange))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()
	store := postgres.NewStore(pool)
	if err := store.Ping(ctx); err != nil {
		return err
	}

	publisher, err := outbox.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		return errors.Wrap(err, "connect broker")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Warn("Close publisher", zap.Error(err))
		}
	}()

	relay := outbox.NewRelay(store, publisher, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	return relay.Run(ctx)
}
