package settlement

import (
	"context"
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

// PaymentRequest holds the input for recording a single payment.
type PaymentRequest struct {
	BusinessID string
	OrderID    string
	Actor      string
	Amount     decimal.Decimal
	Details    payment.Details
	// IdempotencyKey identifies the payment attempt. Retrying with the same
	// key returns the stored payment instead of charging again.
	IdempotencyKey string
	Now            time.Time
}

// PaymentResult is the outcome of RecordPayment.
type PaymentResult struct {
	Order    *order.Order
	Payment  *payment.Payment
	Ledger   payment.Ledger
	Replayed bool
}

// RecordPayment records a payment against a placed order. Gift cards are
// charged in the same transaction; cards are authorised with the processor
// before the payment is stored. The order becomes paid once the remaining
// balance reaches zero.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (_ *PaymentResult, rerr error) {
	ctx, span := s.startSpan(ctx, "settlement.RecordPayment", req.BusinessID, req.OrderID)
	defer func() { endSpan(span, rerr) }()

	if req.IdempotencyKey == "" {
		return nil, payment.ErrMissingIdempotency
	}
	if err := payment.Validate(req.Amount, req.Details); err != nil {
		return nil, err
	}

	var (
		result     *PaymentResult
		authorized []*payment.Payment
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		authorized = authorized[:0]

		o, err := uow.Orders().GetForUpdate(ctx, req.BusinessID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}

		existing, err := findAttempt(ctx, uow, req.BusinessID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if !sameAttempt(existing, req.OrderID, req.Amount, req.Details) {
				return payment.ErrIdempotencyConflict
			}
			st, err := loadStatement(ctx, uow, o)
			if err != nil {
				return err
			}
			result = &PaymentResult{Order: o, Payment: existing, Ledger: st.Ledger, Replayed: true}
			return nil
		}
		if err := checkVoided(ctx, uow, req.BusinessID, req.IdempotencyKey); err != nil {
			return err
		}

		if err := checkPayable(o); err != nil {
			return err
		}
		st, err := loadStatement(ctx, uow, o)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(st.Ledger.RemainingBalance) {
			return ErrOverpayment.WithMessage("amount " + req.Amount.StringFixed(2) + " exceeds remaining balance " + st.Ledger.RemainingBalance.StringFixed(2))
		}

		p := &payment.Payment{
			ID:             uuid.NewString(),
			BusinessID:     req.BusinessID,
			OrderID:        o.ID,
			CreatedBy:      req.Actor,
			Seq:            payment.NextSeq(st.Payments),
			Amount:         req.Amount,
			Details:        req.Details,
			IdempotencyKey: req.IdempotencyKey,
			PaidAt:         req.Now,
		}
		if err := s.tender(ctx, uow, p, req.Now); err != nil {
			return err
		}
		if p.Method() == payment.MethodCard {
			authorized = append(authorized, p)
		}

		o, ledger, err := s.commitPayments(ctx, uow, o, st, []*payment.Payment{p}, req.Now)
		if err != nil {
			return err
		}
		result = &PaymentResult{Order: o, Payment: p, Ledger: ledger}
		return nil
	})
	if err != nil {
		s.compensate(ctx, req.IdempotencyKey, authorized, err, req.Now)
		return nil, err
	}

	if !result.Replayed {
		s.recordMetrics(ctx, result.Payment)
		zctx.From(ctx).Info("Payment recorded",
			zap.String("order_id", result.Order.ID),
			zap.String("payment_id", result.Payment.ID),
			zap.String("method", string(result.Payment.Method())),
			zap.Stringer("amount", result.Payment.Amount),
			zap.Stringer("remaining", result.Ledger.RemainingBalance),
			zap.String("actor", req.Actor),
		)
	}
	return result, nil
}

func checkPayable(o *order.Order) error {
	switch o.Status {
	case order.StatusPlaced:
		return nil
	case order.StatusDraft:
		return ErrOrderNotPlaced
	case order.StatusPaid:
		return ErrOrderAlreadyPaid
	case order.StatusCancelled:
		return ErrOrderCancelled
	default:
		return errors.Errorf("unknown order status %q", o.Status)
	}
}

func findAttempt(ctx context.Context, uow UnitOfWork, businessID, key string) (*payment.Payment, error) {
	p, err := uow.Payments().FindByIdempotencyKey(ctx, businessID, key)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, payment.ErrNotFound):
		return nil, nil
	default:
		return nil, errors.Wrap(err, "find payment by idempotency key")
	}
}

// checkVoided rejects a key whose card charge was reversed by compensate.
func checkVoided(ctx context.Context, uow UnitOfWork, businessID, key string) error {
	voided, err := uow.Payments().IsVoided(ctx, businessID, key)
	if err != nil {
		return errors.Wrap(err, "check voided attempt")
	}
	if voided {
		return payment.ErrAttemptVoided
	}
	return nil
}

func sameAttempt(p *payment.Payment, orderID string, amount decimal.Decimal, d payment.Details) bool {
	return p.OrderID == orderID && p.Amount.Equal(amount) && p.Method() == d.Method()
}

// tender applies the method-specific side of a payment: change for cash,
// a balance reservation for gift cards and an authorisation for cards.
func (s *Service) tender(ctx context.Context, uow UnitOfWork, p *payment.Payment, now time.Time) error {
	switch d := p.Details.(type) {
	case payment.Cash:
		d.Change = d.Received.Sub(p.Amount)
		p.Details = d
	case payment.GiftCard:
		g, err := giftcard.NewManager(uow.GiftCards()).Reserve(ctx, p.BusinessID, d.Code, p.Amount, now)
		if err != nil {
			return errors.Wrap(err, "reserve gift card")
		}
		d.Code = g.Code
		d.TransactionID = uuid.NewString()
		p.Details = d
	case payment.Card:
		card, err := s.authorize(ctx, p, d)
		if err != nil {
			return err
		}
		p.Details = card
	default:
		return payment.ErrMissingMethod
	}
	return nil
}

// authorize charges the card through the processor within the configured
// timeout. Only a succeeded intent is accepted.
func (s *Service) authorize(ctx context.Context, p *payment.Payment, card payment.Card) (payment.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	intentID := card.PaymentIntentID
	if intentID == "" {
		intent, err := s.processor.CreateIntent(ctx, payment.IntentRequest{
			Amount:          p.Amount,
			Currency:        s.currency,
			PaymentMethodID: card.PaymentMethodID,
			IdempotencyKey:  p.IdempotencyKey + "/intent",
			Metadata: map[string]string{
				"order_id":    p.OrderID,
				"business_id": p.BusinessID,
			},
		})
		if err != nil {
			return card, processorError(ctx, err, "create intent")
		}
		intentID = intent.ID
	}

	auth, err := s.processor.Confirm(ctx, intentID, p.IdempotencyKey+"/confirm")
	if err != nil {
		return card, processorError(ctx, err, "confirm intent")
	}
	switch auth.Status {
	case payment.IntentSucceeded:
	case payment.IntentProcessing:
		return card, payment.ErrProcessorTimeout.WithMessage("card authorisation is still processing; retry with the same idempotency key")
	default:
		msg := "payment was declined"
		if auth.DeclineReason != "" {
			msg += ": " + auth.DeclineReason
		}
		return card, payment.ErrDeclined.WithMessage(msg)
	}

	card.PaymentIntentID = auth.IntentID
	card.TransactionID = auth.TransactionID
	card.AuthorizationCode = auth.AuthorizationCode
	return card, nil
}

// processorError classifies a processor failure. Domain errors returned by
// the processor pass through unchanged.
func processorError(ctx context.Context, err error, op string) error {
	var de *apperr.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		zctx.From(ctx).Warn("Processor timeout", zap.String("op", op), zap.Error(err))
		return payment.ErrProcessorTimeout
	}
	zctx.From(ctx).Error("Processor failure", zap.String("op", op), zap.Error(err))
	return payment.ErrProcessorUnavailable
}

// commitPayments stores the new payments, recomputes the ledger and moves the
// order to paid when nothing remains.
func (s *Service) commitPayments(
	ctx context.Context,
	uow UnitOfWork,
	o *order.Order,
	st *Statement,
	added []*payment.Payment,
	now time.Time,
) (*order.Order, payment.Ledger, error) {
	all := st.Payments
	events := make([]event.Event, 0, len(added)+1)
	for _, p := range added {
		if err := uow.Payments().Create(ctx, p); err != nil {
			return nil, payment.Ledger{}, errors.Wrap(err, "create payment")
		}
		all = append(all, *p)
		events = append(events, paymentRecordedEvent(o, p, payment.NewLedger(o.Total(), all, st.Refunds)))
	}

	ledger := payment.NewLedger(o.Total(), all, st.Refunds)
	if ledger.IsFullyPaid {
		if err := o.Transition(order.StatusPaid, now); err != nil {
			return nil, payment.Ledger{}, err
		}
		if err := uow.Orders().UpdateStatus(ctx, o); err != nil {
			return nil, payment.Ledger{}, errors.Wrap(err, "update order status")
		}
		events = append(events, orderPaidEvent(o, ledger, now))
	}
	if err := uow.Events().Append(ctx, events...); err != nil {
		return nil, payment.Ledger{}, errors.Wrap(err, "append events")
	}
	return o, ledger, nil
}

// compensate refunds card authorisations whose payments were not stored and
// marks attemptKey as voided once a reversal is accepted. It runs detached
// from ctx so a cancelled request still releases the charge.
func (s *Service) compensate(ctx context.Context, attemptKey string, authorized []*payment.Payment, cause error, now time.Time) {
	if len(authorized) == 0 {
		return
	}
	lg := zctx.From(ctx)
	ctx = context.WithoutCancel(ctx)
	var voided []payment.VoidedAttempt
	for _, p := range authorized {
		card, ok := p.Details.(payment.Card)
		if !ok || card.TransactionID == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.processor.Refund(rctx, payment.ProcessorRefundRequest{
			TransactionID:  card.TransactionID,
			Amount:         p.Amount,
			Currency:       s.currency,
			Reason:         "payment not recorded",
			IdempotencyKey: p.IdempotencyKey + "/void",
		})
		cancel()
		if err != nil || res.Status == payment.RefundFailed {
			lg.Error("Card compensation failed, manual reversal required",
				zap.String("order_id", p.OrderID),
				zap.String("transaction_id", card.TransactionID),
				zap.Stringer("amount", p.Amount),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
			continue
		}
		lg.Warn("Card authorisation reversed",
			zap.String("order_id", p.OrderID),
			zap.String("transaction_id", card.TransactionID),
			zap.String("refund_id", res.ID),
			zap.NamedError("cause", cause),
		)
		voided = append(voided, payment.VoidedAttempt{
			BusinessID:     p.BusinessID,
			IdempotencyKey: attemptKey,
			OrderID:        p.OrderID,
			TransactionID:  card.TransactionID,
			VoidedAt:       now,
		})
	}
	if len(voided) == 0 {
		return
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		for i := range voided {
			if err := uow.Payments().RecordVoid(ctx, &voided[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		lg.Error("Failed to mark payment attempt as voided",
			zap.String("idempotency_key", attemptKey),
			zap.Error(err),
		)
	}
}

func (s *Service) recordMetrics(ctx context.Context, payments ...*payment.Payment) {
	for _, p := range payments {
		attrs := metric.WithAttributes(attribute.String("method", string(p.Method())))
		s.payments.Add(ctx, 1, attrs)
		s.collected.Add(ctx, p.Amount.InexactFloat64(), attrs)
	}
}
