// Package handler exposes the POS settlement API over HTTP.
package handler

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/auth"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
	"github.com/ponulis/Software-Design-POS-System-sub001/pkg/httpmiddleware"
)

// Request headers.
const (
	HeaderActor          = "X-Actor-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

var errMissingActor = apperr.New(apperr.KindValidation, "missing_actor", HeaderActor+" header is required")

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Now is the clock passed to domain services. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves the order, payment, refund, gift card and product
// endpoints. Every request is scoped to the business of its API key.
type Handler struct {
	products  product.Repository
	orders    *order.Service
	settle    *settlement.Service
	giftcards *giftcard.Manager
	validate  *validator.Validate
	now       func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	orders *order.Service,
	settle *settlement.Service,
	giftcards *giftcard.Manager,
) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		products:  products,
		orders:    orders,
		settle:    settle,
		giftcards: giftcards,
		validate:  v,
		now:       cfg.Now,
	}
}

// Mount registers the API under /api on r. Requests are authenticated by
// authn first; middlewares run after authentication, so they can key on the
// business.
func (h *Handler) Mount(r chi.Router, authn *Authenticator, middlewares ...httpmiddleware.Middleware) {
	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Middleware)
		for _, m := range middlewares {
			r.Use(m)
		}

		r.With(RequireScope(ScopeProductsRead)).Get("/products", h.listProducts)

		r.Route("/orders", func(r chi.Router) {
			r.With(RequireScope(ScopeOrdersWrite)).Post("/", h.createOrder)
			r.Route("/{orderID}", func(r chi.Router) {
				r.With(RequireScope(ScopeOrdersRead)).Get("/", h.getOrder)
				r.With(RequireScope(ScopeOrdersWrite)).Post("/place", h.placeOrder)
				r.With(RequireScope(ScopeOrdersWrite)).Post("/cancel", h.cancelOrder)
				r.With(RequireScope(ScopePaymentsWrite)).Post("/payments", h.recordPayment)
				r.With(RequireScope(ScopePaymentsWrite)).Post("/payments/split", h.recordSplitPayments)
				r.With(RequireScope(ScopeRefundsWrite)).Post("/refunds", h.refund)
			})
		})

		r.Route("/gift-cards", func(r chi.Router) {
			r.With(RequireScope(ScopeGiftCardsWrite)).Post("/", h.issueGiftCard)
			r.With(RequireScope(ScopeGiftCardsRead)).Get("/{code}", h.getGiftCard)
		})
	})
}

// caller returns the business of the API key and the acting employee.
func caller(r *http.Request, needActor bool) (businessID, actor string, err error) {
	key, ok := auth.FromContext(r.Context())
	if !ok {
		return "", "", apperr.ErrInternal.WithMessage("request is not authenticated")
	}
	actor = strings.TrimSpace(r.Header.Get(HeaderActor))
	if needActor && actor == "" {
		return "", "", errMissingActor
	}
	return key.BusinessID, actor, nil
}

// decode reads the body into req and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, optional bool, req any, field func(d *jx.Decoder, key string) error) error {
	if err := readBody(w, r, optional, field); err != nil {
		return err
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		return validationError(err)
	}
	return nil
}
