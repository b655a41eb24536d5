package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPlaced    Status = "placed"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// transitions lists the forward moves allowed from each status. Cancelled is
// terminal and Paid only leaves through the refund flow.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusPlaced, StatusCancelled},
	StatusPlaced: {StatusPaid, StatusCancelled},
	StatusPaid:   {StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPlaced, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	ErrEmptyItems        = apperr.New(apperr.KindValidation, "empty_items", "order must contain at least one item")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidState, "invalid_transition", "order status transition is not allowed")
)

// Order is a customer order. Money components are stored; the total never is.
type Order struct {
	ID         string
	BusinessID string
	SpotID     string
	CreatedBy  string
	Items      []Item
	SubTotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	DiscountID string
	TaxIDs     []string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Totals returns the stored money components.
func (o *Order) Totals() pricing.Totals {
	return pricing.Totals{SubTotal: o.SubTotal, Discount: o.Discount, Tax: o.Tax}
}

// Total is SubTotal - Discount + Tax, recomputed on every call.
func (o *Order) Total() decimal.Decimal {
	return o.Totals().Total()
}

// Transition moves the order to status to, stamping UpdatedAt.
func (o *Order) Transition(to Status, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return ErrInvalidTransition.WithMessage("cannot move order from " + string(o.Status) + " to " + string(to))
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// Item is a single order line. UnitPrice is captured when the order is
// created and is never refreshed from the catalog.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Notes     string
}

// LineTotal returns Quantity x UnitPrice without rounding.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, businessID, id string) (*Order, error)
	// GetForUpdate loads the order and holds its write lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, businessID, id string) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
}
