package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := h.decode(w, r, false, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}

	items := make([]order.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, Notes: it.Notes}
	}
	o, err := h.orders.Create(ctx, order.CreateRequest{
		BusinessID: businessID,
		SpotID:     req.SpotID,
		Actor:      actor,
		Items:      items,
		DiscountID: req.DiscountID,
		TaxIDs:     req.TaxIDs,
		Now:        h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, _, err := caller(r, false)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	st, err := h.settle.Statement(ctx, businessID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStatement(e, st) })
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.settle.Place(ctx, settlement.PlaceRequest{
		BusinessID: businessID,
		OrderID:    chi.URLParam(r, "orderID"),
		Actor:      actor,
		Now:        h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, actor, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req cancelRequest
	if err := h.decode(w, r, true, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.settle.Cancel(ctx, settlement.CancelRequest{
		BusinessID: businessID,
		OrderID:    chi.URLParam(r, "orderID"),
		Actor:      actor,
		Reason:     req.Reason,
		Now:        h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
