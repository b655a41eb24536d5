package settlement

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

// SplitElement is one tender of a split payment.
type SplitElement struct {
	Amount  decimal.Decimal
	Details payment.Details
}

// SplitRequest holds the input for recording several tenders at once.
type SplitRequest struct {
	BusinessID string
	OrderID    string
	Actor      string
	Elements   []SplitElement
	// IdempotencyKey identifies the whole split. Element i is stored under
	// "<key>/<i>".
	IdempotencyKey string
	Now            time.Time
}

// SplitResult is the outcome of RecordSplitPayments.
type SplitResult struct {
	Order    *order.Order
	Payments []payment.Payment
	Ledger   payment.Ledger
	Replayed bool
}

// ElementKey returns the idempotency key of split element i.
func ElementKey(key string, i int) string {
	return key + "/" + strconv.Itoa(i)
}

// RecordSplitPayments records all elements together or none of them. Every
// element is validated before anything is mutated, and card elements are
// authorised last so that a failing cash or gift card element never leaves
// a card charged.
func (s *Service) RecordSplitPayments(ctx context.Context, req SplitRequest) (_ *SplitResult, rerr error) {
	ctx, span := s.startSpan(ctx, "settlement.RecordSplitPayments", req.BusinessID, req.OrderID)
	defer func() { endSpan(span, rerr) }()

	if req.IdempotencyKey == "" {
		return nil, payment.ErrMissingIdempotency
	}
	if len(req.Elements) == 0 {
		return nil, ErrEmptySplit
	}
	sum := decimal.Zero
	for i, el := range req.Elements {
		if err := payment.Validate(el.Amount, el.Details); err != nil {
			return nil, elementError(i, err)
		}
		sum = sum.Add(el.Amount)
	}

	var (
		result     *SplitResult
		authorized []*payment.Payment
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		authorized = authorized[:0]

		o, err := uow.Orders().GetForUpdate(ctx, req.BusinessID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}

		replayed, err := s.findSplit(ctx, uow, req)
		if err != nil {
			return err
		}
		if replayed != nil {
			st, err := loadStatement(ctx, uow, o)
			if err != nil {
				return err
			}
			result = &SplitResult{Order: o, Payments: replayed, Ledger: st.Ledger, Replayed: true}
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
		if sum.GreaterThan(st.Ledger.RemainingBalance) {
			return ErrOverpayment.WithMessage("split total " + sum.StringFixed(2) + " exceeds remaining balance " + st.Ledger.RemainingBalance.StringFixed(2))
		}

		seq := payment.NextSeq(st.Payments)
		added := make([]*payment.Payment, len(req.Elements))
		var codes []string
		for i, el := range req.Elements {
			added[i] = &payment.Payment{
				ID:             uuid.NewString(),
				BusinessID:     req.BusinessID,
				OrderID:        o.ID,
				CreatedBy:      req.Actor,
				Seq:            seq + i,
				Amount:         el.Amount,
				Details:        el.Details,
				IdempotencyKey: ElementKey(req.IdempotencyKey, i),
				PaidAt:         req.Now,
			}
			if gc, ok := el.Details.(payment.GiftCard); ok {
				codes = append(codes, gc.Code)
			}
		}
		if err := lockGiftCards(ctx, uow, req.BusinessID, codes); err != nil {
			return elementError(-1, err)
		}

		// Local tenders first, cards last.
		for i, p := range added {
			if p.Method() == payment.MethodCard {
				continue
			}
			if err := s.tender(ctx, uow, p, req.Now); err != nil {
				return elementError(i, err)
			}
		}
		for i, p := range added {
			if p.Method() != payment.MethodCard {
				continue
			}
			if err := s.tender(ctx, uow, p, req.Now); err != nil {
				return elementError(i, err)
			}
			authorized = append(authorized, p)
		}

		o, ledger, err := s.commitPayments(ctx, uow, o, st, added, req.Now)
		if err != nil {
			return err
		}
		stored := make([]payment.Payment, len(added))
		for i, p := range added {
			stored[i] = *p
		}
		result = &SplitResult{Order: o, Payments: stored, Ledger: ledger}
		return nil
	})
	if err != nil {
		s.compensate(ctx, req.IdempotencyKey, authorized, err, req.Now)
		return nil, err
	}

	if !result.Replayed {
		for i := range result.Payments {
			s.recordMetrics(ctx, &result.Payments[i])
		}
		zctx.From(ctx).Info("Split payment recorded",
			zap.String("order_id", result.Order.ID),
			zap.Int("elements", len(result.Payments)),
			zap.Stringer("amount", sum),
			zap.Stringer("remaining", result.Ledger.RemainingBalance),
			zap.String("actor", req.Actor),
		)
	}
	return result, nil
}

// findSplit returns the stored payments of a previously applied split, nil
// when the key is unused, or ErrIdempotencyConflict when the stored attempt
// differs from req.
func (s *Service) findSplit(ctx context.Context, uow UnitOfWork, req SplitRequest) ([]payment.Payment, error) {
	var found []payment.Payment
	for i, el := range req.Elements {
		p, err := findAttempt(ctx, uow, req.BusinessID, ElementKey(req.IdempotencyKey, i))
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if !sameAttempt(p, req.OrderID, el.Amount, el.Details) {
			return nil, payment.ErrIdempotencyConflict
		}
		found = append(found, *p)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) != len(req.Elements) {
		return nil, payment.ErrIdempotencyConflict
	}
	// The stored split may hold more elements than the request.
	extra, err := findAttempt(ctx, uow, req.BusinessID, ElementKey(req.IdempotencyKey, len(req.Elements)))
	if err != nil {
		return nil, err
	}
	if extra != nil {
		return nil, payment.ErrIdempotencyConflict
	}
	return found, nil
}

// elementError prefixes a domain error message with the failing element.
func elementError(i int, err error) error {
	var de *apperr.Error
	if i < 0 || !errors.As(err, &de) {
		return err
	}
	return de.WithMessage("payment " + strconv.Itoa(i+1) + ": " + de.Message)
}
