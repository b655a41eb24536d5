package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
)

// PlaceRequest holds the input for placing a draft order.
type PlaceRequest struct {
	BusinessID string
	OrderID    string
	Actor      string
	Now        time.Time
}

// Place moves a draft order to placed. An order whose total is zero has
// nothing to collect and is marked paid straight away.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (_ *order.Order, rerr error) {
	ctx, span := s.startSpan(ctx, "settlement.Place", req.BusinessID, req.OrderID)
	defer func() { endSpan(span, rerr) }()

	var placed *order.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.Orders().GetForUpdate(ctx, req.BusinessID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if err := o.Transition(order.StatusPlaced, req.Now); err != nil {
			return err
		}
		events := []event.Event{orderPlacedEvent(o, req.Now)}

		if !o.Total().IsPositive() {
			if err := o.Transition(order.StatusPaid, req.Now); err != nil {
				return err
			}
			st, err := loadStatement(ctx, uow, o)
			if err != nil {
				return err
			}
			events = append(events, orderPaidEvent(o, st.Ledger, req.Now))
		}

		if err := uow.Orders().UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update order status")
		}
		if err := uow.Events().Append(ctx, events...); err != nil {
			return errors.Wrap(err, "append events")
		}
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("actor", req.Actor),
		zap.String("status", string(placed.Status)),
	)
	return placed, nil
}

// CancelRequest holds the input for cancelling an unpaid order.
type CancelRequest struct {
	BusinessID string
	OrderID    string
	Actor      string
	Reason     string
	Now        time.Time
}

// Cancel cancels a draft or placed order. Orders with collected money must
// go through Refund instead.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (_ *order.Order, rerr error) {
	ctx, span := s.startSpan(ctx, "settlement.Cancel", req.BusinessID, req.OrderID)
	defer func() { endSpan(span, rerr) }()

	var cancelled *order.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		o, err := uow.Orders().GetForUpdate(ctx, req.BusinessID, req.OrderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		switch o.Status {
		case order.StatusCancelled:
			return ErrOrderCancelled
		case order.StatusPaid:
			return ErrOrderHasPayments
		}

		st, err := loadStatement(ctx, uow, o)
		if err != nil {
			return err
		}
		if st.Ledger.TotalPaid.IsPositive() {
			return ErrOrderHasPayments
		}

		if err := o.Transition(order.StatusCancelled, req.Now); err != nil {
			return err
		}
		if err := uow.Orders().UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update order status")
		}
		if err := uow.Events().Append(ctx, orderCancelledEvent(o, req.Reason, req.Now)); err != nil {
			return errors.Wrap(err, "append events")
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", cancelled.ID),
		zap.String("actor", req.Actor),
		zap.String("reason", req.Reason),
	)
	return cancelled, nil
}
