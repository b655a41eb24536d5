package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	businessID, _, err := caller(r, false)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	products, err := h.products.List(ctx, businessID)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProducts(e, products) })
}
