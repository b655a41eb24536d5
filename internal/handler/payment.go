package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		return "", payment.ErrMissingIdempotency
	}
	return key, nil
}

// replayStatus is 200 for a replayed attempt and 201 for a new one.
func replayStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req tenderRequest
	if err := h.decode(w, r, false, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	amount, details, err := req.tender()
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.settle.RecordPayment(ctx, settlement.PaymentRequest{
		BusinessID:     businessID,
		OrderID:        chi.URLParam(r, "orderID"),
		Actor:          actor,
		Amount:         amount,
		Details:        details,
		IdempotencyKey: key,
		Now:            h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, replayStatus(res.Replayed), func(e *jx.Encoder) { encodePaymentResult(e, res) })
}

func (h *Handler) recordSplitPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req splitRequest
	if err := h.decode(w, r, false, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	elements := make([]settlement.SplitElement, len(req.Payments))
	for i := range req.Payments {
		amount, details, err := req.Payments[i].tender()
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		elements[i] = settlement.SplitElement{Amount: amount, Details: details}
	}

	res, err := h.settle.RecordSplitPayments(ctx, settlement.SplitRequest{
		BusinessID:     businessID,
		OrderID:        chi.URLParam(r, "orderID"),
		Actor:          actor,
		Elements:       elements,
		IdempotencyKey: key,
		Now:            h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, replayStatus(res.Replayed), func(e *jx.Encoder) { encodeSplitResult(e, res) })
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req refundRequest
	if err := h.decode(w, r, true, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	var amount *decimal.Decimal
	if req.Amount != "" {
		v, err := parseAmount(req.Amount)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		amount = &v
	}

	res, err := h.settle.Refund(ctx, settlement.RefundRequest{
		BusinessID:     businessID,
		OrderID:        chi.URLParam(r, "orderID"),
		Actor:          actor,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: key,
		Now:            h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRefundResult(e, res) })
}
