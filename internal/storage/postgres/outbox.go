package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
)

var eventColumns = []string{
	"id", "type", "business_id", "aggregate_id", "payload", "occurred_at", "attempts", "last_error", "published_at",
}

type eventStore struct {
	q querier
}

// Append inserts events into the outbox within the caller's transaction.
func (e eventStore) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	b := psql.Insert("outbox_events").
		Columns("id", "type", "business_id", "aggregate_id", "payload", "occurred_at")
	for _, ev := range events {
		b = b.Values(ev.ID, string(ev.Type), ev.BusinessID, ev.AggregateID, ev.Payload, ev.OccurredAt)
	}
	if _, err := exec(ctx, e.q, b); err != nil {
		return errors.Wrap(err, "append outbox events")
	}
	return nil
}

// Pending implements event.Outbox. Events are returned in insertion order.
func (s *Store) Pending(ctx context.Context, limit, maxAttempts int) ([]event.Event, error) {
	rows, err := query(ctx, s.pool, psql.Select(eventColumns...).
		From("outbox_events").
		Where(sq.Eq{"published_at": nil}).
		Where(sq.Lt{"attempts": maxAttempts}).
		OrderBy("seq").
		Limit(uint64(limit)))
	if err != nil {
		return nil, errors.Wrap(err, "list pending events")
	}
	return pgx.CollectRows(rows, scanEvent)
}

// Backlog counts events not yet published, parked ones included.
func (s *Store) Backlog(ctx context.Context) (int, error) {
	sql, args, err := psql.Select("count(*)").
		From("outbox_events").
		Where(sq.Eq{"published_at": nil}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build backlog query")
	}
	var n int
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count backlog")
	}
	return n, nil
}

// MarkPublished implements event.Outbox.
func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := exec(ctx, s.pool, psql.Update("outbox_events").
		Set("published_at", at).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrapf(err, "mark event %q published", id)
	}
	return nil
}

// MarkFailed implements event.Outbox.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := exec(ctx, s.pool, psql.Update("outbox_events").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", reason).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrapf(err, "mark event %q failed", id)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (event.Event, error) {
	var (
		ev  event.Event
		typ string
	)
	err := row.Scan(
		&ev.ID, &typ, &ev.BusinessID, &ev.AggregateID, &ev.Payload, &ev.OccurredAt,
		&ev.Attempts, &ev.LastError, &ev.PublishedAt,
	)
	ev.Type = event.Type(typ)
	return ev, err
}
