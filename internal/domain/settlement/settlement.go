// Package settlement reconciles payments and refunds against orders and
// drives the order state machine.
//
// Every mutation runs in one transaction that first locks the order row, so
// ledger reads and writes for a single order are serialised. Gift cards are
// locked after the order, in ascending code order.
package settlement

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

var (
	ErrOrderNotPlaced      = apperr.New(apperr.KindInvalidState, "order_not_placed", "order must be placed before it can be paid")
	ErrOrderAlreadyPaid    = apperr.New(apperr.KindInvalidState, "order_already_paid", "order is already paid")
	ErrOrderCancelled      = apperr.New(apperr.KindInvalidState, "order_cancelled", "order is cancelled")
	ErrOrderHasPayments    = apperr.New(apperr.KindInvalidState, "order_has_payments", "order has collected payments; refund them instead")
	ErrOverpayment         = apperr.New(apperr.KindInvalidState, "overpayment", "amount exceeds the remaining balance")
	ErrEmptySplit          = apperr.New(apperr.KindValidation, "empty_split", "at least one payment is required")
	ErrInvalidRefundAmount = apperr.New(apperr.KindValidation, "invalid_refund_amount", "refund amount must be greater than 0 with at most 2 decimal places")
	ErrRefundExceedsPaid   = apperr.New(apperr.KindValidation, "refund_exceeds_paid", "refund amount exceeds the amount paid")
	ErrNoPaymentsToRefund  = apperr.New(apperr.KindInvalidState, "no_payments_to_refund", "order has no collected payments to refund")
)

// UnitOfWork exposes repositories bound to one transaction.
type UnitOfWork interface {
	Orders() order.Repository
	Payments() payment.Repository
	GiftCards() giftcard.Repository
	Events() event.Store
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Config holds settlement settings.
type Config struct {
	// Currency is the ISO 4217 code sent to the card processor.
	Currency string
	// ProcessorTimeout bounds every card processor call.
	ProcessorTimeout time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if c.ProcessorTimeout <= 0 {
		c.ProcessorTimeout = 10 * time.Second
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
}

// Service settles orders.
type Service struct {
	tx        Transactor
	processor payment.Processor
	currency  string
	timeout   time.Duration

	tracer    trace.Tracer
	payments  metric.Int64Counter
	collected metric.Float64Counter
	refunds   metric.Int64Counter
}

// NewService creates a settlement Service.
func NewService(tx Transactor, processor payment.Processor, cfg Config) (*Service, error) {
	cfg.setDefaults()

	meter := cfg.MeterProvider.Meter("pos/settlement")
	payments, err := meter.Int64Counter("pos.settlement.payments",
		metric.WithDescription("Payments recorded, by method"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payments counter")
	}
	collected, err := meter.Float64Counter("pos.settlement.collected",
		metric.WithDescription("Amount collected, by method"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "collected counter")
	}
	refunds, err := meter.Int64Counter("pos.settlement.refunds",
		metric.WithDescription("Payment reversals, by method and status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "refunds counter")
	}

	return &Service{
		tx:        tx,
		processor: processor,
		currency:  cfg.Currency,
		timeout:   cfg.ProcessorTimeout,
		tracer:    cfg.TracerProvider.Tracer("pos/settlement"),
		payments:  payments,
		collected: collected,
		refunds:   refunds,
	}, nil
}

// Statement is a consistent snapshot of an order and its ledger.
type Statement struct {
	Order    *order.Order
	Ledger   payment.Ledger
	Payments []payment.Payment
	Refunds  []payment.Refund
}

// Statement returns the order with its payments, refunds and ledger.
func (s *Service) Statement(ctx context.Context, businessID, orderID string) (*Statement, error) {
	var st *Statement
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, businessID, orderID)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		st, err = loadStatement(ctx, uow, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func loadStatement(ctx context.Context, uow UnitOfWork, o *order.Order) (*Statement, error) {
	payments, err := uow.Payments().ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	refunds, err := uow.Payments().ListRefunds(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	return &Statement{
		Order:    o,
		Ledger:   payment.NewLedger(o.Total(), payments, refunds),
		Payments: payments,
		Refunds:  refunds,
	}, nil
}

// lockGiftCards takes the row locks of the given codes in ascending order.
func lockGiftCards(ctx context.Context, uow UnitOfWork, businessID string, codes []string) error {
	sorted := make([]string, 0, len(codes))
	for _, c := range codes {
		sorted = append(sorted, giftcard.NormalizeCode(c))
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for _, code := range sorted {
		if _, err := uow.GiftCards().GetForUpdate(ctx, businessID, code); err != nil {
			return errors.Wrap(err, "lock gift card")
		}
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name, businessID, orderID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("pos.business_id", businessID),
		attribute.String("pos.order_id", orderID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
	}
	span.End()
}
