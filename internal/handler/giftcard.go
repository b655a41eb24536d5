package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
)

// getGiftCard returns a card that can currently be charged. Inactive and
// expired cards are reported as conflicts.
func (h *Handler) getGiftCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, _, err := caller(r, false)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	g, err := h.giftcards.Validate(ctx, businessID, chi.URLParam(r, "code"), h.now())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeGiftCard(e, g) })
}

func (h *Handler) issueGiftCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, _, err := caller(r, true)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req issueGiftCardRequest
	if err := h.decode(w, r, false, &req, req.decode); err != nil {
		writeError(ctx, w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(ctx, w, apperr.Validation("expires_at must be an RFC 3339 timestamp"))
			return
		}
		expiresAt = &t
	}

	g, err := h.giftcards.Issue(ctx, giftcard.IssueRequest{
		BusinessID: businessID,
		Code:       req.Code,
		Amount:     amount,
		ExpiresAt:  expiresAt,
		Now:        h.now(),
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeGiftCard(e, g) })
}
