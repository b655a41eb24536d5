package settlement

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

// RefundRequest holds the input for a refund.
type RefundRequest struct {
	BusinessID string
	OrderID    string
	Actor      string
	// Amount is the amount to return. Nil refunds everything still
	// collected on the order.
	Amount *decimal.Decimal
	Reason string
	// IdempotencyKey identifies the refund request. Retrying with the same
	// key returns the stored refunds, and the processor receives
	// "<key>/<paymentID>" for every card reversal.
	IdempotencyKey string
	Now            time.Time
}

// RefundResult enumerates the per-payment outcomes of a refund.
type RefundResult struct {
	Order   *order.Order
	Ledger  payment.Ledger
	Refunds []payment.Refund
	// Requested is the amount that was allocated across payments.
	Requested decimal.Decimal
	// Refunded sums the succeeded and pending reversals.
	Refunded decimal.Decimal
	// Failed sums the reversals the processor rejected.
	Failed decimal.Decimal
	// PartiallyRefunded is set when money was returned but the order keeps
	// a collected balance and so was not cancelled.
	PartiallyRefunded bool
	Replayed          bool
}

// ErrRefundKeyConflict is returned when a refund key is reused for a
// different request.
var ErrRefundKeyConflict = payment.ErrIdempotencyConflict.WithMessage("idempotency key was already used for a different refund")

type allocation struct {
	payment *payment.Payment
	amount  decimal.Decimal
}

// Refund returns money on a placed or paid order. The amount is allocated to
// payments most recent first. Gift card payments are restored to the card,
// cash is returned at the till and card payments are refunded through the
// processor. A processor failure is reported on that payment's refund and
// does not stop the remaining reversals. The order is cancelled once nothing
// remains collected.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (_ *RefundResult, rerr error) {
	ctx, span := s.startSpan(ctx, "settlement.Refund", req.BusinessID, req.OrderID)
	defer func() { endSpan(span, rerr) }()

	if req.IdempotencyKey == "" {
		return nil, payment.ErrMissingIdempotency
	}
	if req.Amount != nil && (!req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2))) {
		return nil, ErrInvalidRefundAmount
	}

	var result *RefundResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.Orders().GetForUpdate(ctx, req.BusinessID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		st, err := loadStatement(ctx, uow, o)
		if err != nil {
			return err
		}

		prior, err := uow.Payments().ListRefundsByRequestKey(ctx, req.BusinessID, req.IdempotencyKey)
		if err != nil {
			return errors.Wrap(err, "find refunds by request key")
		}
		if len(prior) > 0 {
			res := tally(prior)
			if prior[0].OrderID != o.ID || (req.Amount != nil && !req.Amount.Equal(res.Requested)) {
				return ErrRefundKeyConflict
			}
			res.Order = o
			res.Ledger = st.Ledger
			res.PartiallyRefunded = o.Status != order.StatusCancelled && res.Refunded.IsPositive()
			res.Replayed = true
			result = res
			return nil
		}

		switch o.Status {
		case order.StatusCancelled:
			return ErrOrderCancelled
		case order.StatusDraft:
			return ErrNoPaymentsToRefund
		}
		if !st.Ledger.TotalPaid.IsPositive() {
			return ErrNoPaymentsToRefund
		}
		amount := st.Ledger.TotalPaid
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount.GreaterThan(st.Ledger.TotalPaid) {
			return ErrRefundExceedsPaid.WithMessage("refund " + amount.StringFixed(2) + " exceeds amount paid " + st.Ledger.TotalPaid.StringFixed(2))
		}

		plan := allocate(st, amount)
		var codes []string
		for _, a := range plan {
			if gc, ok := a.payment.Details.(payment.GiftCard); ok {
				codes = append(codes, gc.Code)
			}
		}
		if err := lockGiftCards(ctx, uow, req.BusinessID, codes); err != nil {
			return err
		}

		var created []payment.Refund
		for _, a := range plan {
			r, err := s.reverse(ctx, uow, a, req)
			if err != nil {
				return err
			}
			if err := uow.Payments().CreateRefund(ctx, r); err != nil {
				return errors.Wrap(err, "create refund")
			}
			created = append(created, *r)
		}
		res := tally(created)

		refunds := append(slices.Clone(st.Refunds), res.Refunds...)
		ledger := payment.NewLedger(o.Total(), st.Payments, refunds)
		events := []event.Event{orderRefundedEvent(o, res.Refunds, ledger, req.Now)}
		if !ledger.TotalPaid.IsPositive() {
			if err := o.Transition(order.StatusCancelled, req.Now); err != nil {
				return err
			}
			if err := uow.Orders().UpdateStatus(ctx, o); err != nil {
				return errors.Wrap(err, "update order status")
			}
			events = append(events, orderCancelledEvent(o, req.Reason, req.Now))
		}
		if err := uow.Events().Append(ctx, events...); err != nil {
			return errors.Wrap(err, "append events")
		}

		res.Order = o
		res.Ledger = ledger
		res.PartiallyRefunded = o.Status != order.StatusCancelled && res.Refunded.IsPositive()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}

	for _, r := range result.Refunds {
		s.refunds.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(r.Method)),
			attribute.String("status", string(r.Status)),
		))
	}
	zctx.From(ctx).Info("Order refunded",
		zap.String("order_id", result.Order.ID),
		zap.Stringer("requested", result.Requested),
		zap.Stringer("refunded", result.Refunded),
		zap.Stringer("failed", result.Failed),
		zap.String("status", string(result.Order.Status)),
		zap.String("actor", req.Actor),
	)
	return result, nil
}

// tally sums the outcomes of the refunds of one request.
func tally(refunds []payment.Refund) *RefundResult {
	res := &RefundResult{Refunds: refunds, Requested: decimal.Zero, Refunded: decimal.Zero, Failed: decimal.Zero}
	for i := range refunds {
		r := &refunds[i]
		res.Requested = res.Requested.Add(r.Amount)
		if r.Settled() {
			res.Refunded = res.Refunded.Add(r.Amount)
		} else {
			res.Failed = res.Failed.Add(r.Amount)
		}
	}
	return res
}

// allocate spreads amount over the payments, most recent first, taking from
// each no more than it still holds.
func allocate(st *Statement, amount decimal.Decimal) []allocation {
	ordered := make([]*payment.Payment, 0, len(st.Payments))
	for i := range st.Payments {
		ordered = append(ordered, &st.Payments[i])
	}
	slices.SortFunc(ordered, func(a, b *payment.Payment) int {
		return b.Seq - a.Seq
	})

	var plan []allocation
	left := amount
	for _, p := range ordered {
		if !left.IsPositive() {
			break
		}
		net := payment.Net(p, st.Refunds)
		if !net.IsPositive() {
			continue
		}
		take := decimal.Min(net, left)
		plan = append(plan, allocation{payment: p, amount: take})
		left = left.Sub(take)
	}
	return plan
}

// reverse returns one allocation to the customer and builds its refund record.
func (s *Service) reverse(ctx context.Context, uow UnitOfWork, a allocation, req RefundRequest) (*payment.Refund, error) {
	r := &payment.Refund{
		ID:         uuid.NewString(),
		BusinessID: req.BusinessID,
		OrderID:    req.OrderID,
		PaymentID:  a.payment.ID,
		Method:     a.payment.Method(),
		Amount:     a.amount,
		Reason:     req.Reason,
		RequestKey: req.IdempotencyKey,
		CreatedBy:  req.Actor,
		CreatedAt:  req.Now,
	}

	switch d := a.payment.Details.(type) {
	case payment.Cash:
		r.Status = payment.RefundSucceeded
	case payment.GiftCard:
		restored, err := giftcard.NewManager(uow.GiftCards()).Restore(ctx, req.BusinessID, d.Code, a.amount)
		if err != nil {
			return nil, errors.Wrap(err, "restore gift card")
		}
		if restored.LessThan(a.amount) {
			zctx.From(ctx).Warn("Gift card restore capped at original amount",
				zap.String("code", d.Code),
				zap.Stringer("requested", a.amount),
				zap.Stringer("restored", restored),
			)
		}
		r.Status = payment.RefundSucceeded
		r.ExternalRefundID = d.TransactionID
	case payment.Card:
		s.refundCard(ctx, r, d)
	default:
		return nil, payment.ErrMissingMethod
	}
	return r, nil
}

// refundCard asks the processor to return money on a card payment. A timeout
// leaves the refund pending; any other failure marks it failed.
func (s *Service) refundCard(ctx context.Context, r *payment.Refund, card payment.Card) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.processor.Refund(ctx, payment.ProcessorRefundRequest{
		TransactionID:  card.TransactionID,
		Amount:         r.Amount,
		Currency:       s.currency,
		Reason:         r.Reason,
		IdempotencyKey: r.RequestKey + "/" + r.PaymentID,
	})
	if err != nil {
		perr := processorError(ctx, err, "refund")
		if errors.Is(perr, payment.ErrProcessorTimeout) {
			r.Status = payment.RefundPending
			r.FailureReason = payment.ErrProcessorTimeout.Message
			return
		}
		r.Status = payment.RefundFailed
		r.FailureReason = apperr.Public(perr).Message
		return
	}
	r.Status = res.Status
	r.ExternalRefundID = res.ID
	r.FailureReason = res.FailureReason
}
