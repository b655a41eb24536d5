// Package outbox delivers events recorded in the transactional outbox to a
// message broker.
package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
)

// Config holds relay settings.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is the number of failed deliveries after which an event
	// is left for manual inspection.
	MaxAttempts int
	// MaxBackoff caps the delay between polls while the broker is failing.
	MaxBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// Relay polls the outbox and publishes pending events in order.
type Relay struct {
	outbox    event.Outbox
	publisher event.Publisher
	cfg       Config
	now       func() time.Time
}

// NewRelay creates a Relay.
func NewRelay(outbox event.Outbox, publisher event.Publisher, cfg Config) *Relay {
	cfg.setDefaults()
	return &Relay{outbox: outbox, publisher: publisher, cfg: cfg, now: time.Now}
}

// Run relays events until ctx is cancelled. After a failed batch the next
// poll is delayed with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Outbox relay started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.PollInterval
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("Outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.Flush(ctx)
		delay := r.cfg.PollInterval
		switch {
		case err != nil && ctx.Err() == nil:
			delay = b.NextBackOff()
			lg.Warn("Outbox flush failed", zap.Error(err), zap.Duration("retry_in", delay))
		case n == r.cfg.BatchSize:
			b.Reset()
			delay = 0
		default:
			b.Reset()
		}
		timer.Reset(delay)
	}
}

// Flush publishes one batch of pending events and returns how many were
// delivered. It stops at the first failed event so that events of an order
// are never delivered out of sequence.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.outbox.Pending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, errors.Wrap(err, "load pending events")
	}

	lg := zctx.From(ctx)
	for i, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			if merr := r.outbox.MarkFailed(ctx, e.ID, err.Error()); merr != nil {
				lg.Error("Failed to record delivery failure", zap.String("event_id", e.ID), zap.Error(merr))
			}
			if e.Attempts+1 >= r.cfg.MaxAttempts {
				lg.Error("Event delivery abandoned",
					zap.String("event_id", e.ID),
					zap.String("type", string(e.Type)),
					zap.Int("attempts", e.Attempts+1),
					zap.Error(err),
				)
			}
			return i, errors.Wrapf(err, "publish event %s", e.ID)
		}
		if err := r.outbox.MarkPublished(ctx, e.ID, r.now()); err != nil {
			return i, errors.Wrapf(err, "mark event %s published", e.ID)
		}
		lg.Debug("Event published", zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
	}
	return len(events), nil
}
