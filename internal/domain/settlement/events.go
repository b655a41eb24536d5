package settlement

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

func newEvent(t event.Type, o *order.Order, now time.Time, body func(e *jx.Encoder)) event.Event {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("business_id")
	e.Str(o.BusinessID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if body != nil {
		body(&e)
	}
	e.FieldStart("occurred_at")
	e.Str(now.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()

	return event.Event{
		ID:          uuid.NewString(),
		Type:        t,
		BusinessID:  o.BusinessID,
		AggregateID: o.ID,
		Payload:     e.Bytes(),
		OccurredAt:  now,
	}
}

func encodeLedger(e *jx.Encoder, l payment.Ledger) {
	e.FieldStart("total")
	e.Str(l.Total.StringFixed(2))
	e.FieldStart("total_paid")
	e.Str(l.TotalPaid.StringFixed(2))
	e.FieldStart("remaining_balance")
	e.Str(l.RemainingBalance.StringFixed(2))
}

func orderPlacedEvent(o *order.Order, now time.Time) event.Event {
	return newEvent(event.OrderPlaced, o, now, func(e *jx.Encoder) {
		e.FieldStart("total")
		e.Str(o.Total().StringFixed(2))
		e.FieldStart("items")
		e.Int(len(o.Items))
	})
}

func paymentRecordedEvent(o *order.Order, p *payment.Payment, l payment.Ledger) event.Event {
	return newEvent(event.PaymentRecorded, o, p.PaidAt, func(e *jx.Encoder) {
		e.FieldStart("payment_id")
		e.Str(p.ID)
		e.FieldStart("method")
		e.Str(string(p.Method()))
		e.FieldStart("amount")
		e.Str(p.Amount.StringFixed(2))
		encodeLedger(e, l)
	})
}

func orderPaidEvent(o *order.Order, l payment.Ledger, now time.Time) event.Event {
	return newEvent(event.OrderPaid, o, now, func(e *jx.Encoder) {
		encodeLedger(e, l)
	})
}

func orderRefundedEvent(o *order.Order, refunds []payment.Refund, l payment.Ledger, now time.Time) event.Event {
	return newEvent(event.OrderRefunded, o, now, func(e *jx.Encoder) {
		e.FieldStart("refunds")
		e.ArrStart()
		for _, r := range refunds {
			e.ObjStart()
			e.FieldStart("payment_id")
			e.Str(r.PaymentID)
			e.FieldStart("method")
			e.Str(string(r.Method))
			e.FieldStart("amount")
			e.Str(r.Amount.StringFixed(2))
			e.FieldStart("status")
			e.Str(string(r.Status))
			e.ObjEnd()
		}
		e.ArrEnd()
		encodeLedger(e, l)
	})
}

func orderCancelledEvent(o *order.Order, reason string, now time.Time) event.Event {
	return newEvent(event.OrderCancelled, o, now, func(e *jx.Encoder) {
		e.FieldStart("reason")
		if reason == "" {
			e.Null()
		} else {
			e.Str(reason)
		}
	})
}
