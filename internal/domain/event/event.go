// Package event defines domain events recorded in the transactional outbox.
package event

import (
	"context"
	"time"
)

// Type names a domain event.
type Type string

const (
	OrderPlaced     Type = "order.placed"
	PaymentRecorded Type = "payment.recorded"
	OrderPaid       Type = "order.paid"
	OrderRefunded   Type = "order.refunded"
	OrderCancelled  Type = "order.cancelled"
)

// Event is an outbox row. Payload is a JSON document.
type Event struct {
	ID          string
	Type        Type
	BusinessID  string
	AggregateID string
	Payload     []byte
	OccurredAt  time.Time
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}

// Store appends events within the caller's transaction.
type Store interface {
	Append(ctx context.Context, events ...Event) error
}

// Outbox is read by the relay to deliver pending events.
type Outbox interface {
	// Pending returns up to limit unpublished events that have failed fewer
	// than maxAttempts times, oldest first.
	Pending(ctx context.Context, limit, maxAttempts int) ([]Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Publisher delivers an event to a message broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
