package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
)

// ItemInput is a requested order line.
type ItemInput struct {
	ProductID string
	Quantity  int
	Notes     string
}

// CreateRequest holds the input for creating a draft order.
type CreateRequest struct {
	BusinessID string
	SpotID     string
	Actor      string
	Items      []ItemInput
	DiscountID string
	// TaxIDs names the taxes to charge. When empty every tax of the business
	// applicable at Now is charged.
	TaxIDs []string
	Now    time.Time
}

// Service creates and reads orders.
type Service struct {
	products product.Repository
	rules    *pricing.Resolver
	orders   Repository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	rules *pricing.Resolver,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		rules:    rules,
		orders:   orders,
	}
}

// Create validates items, captures current unit prices from the catalog,
// prices the order and persists it as a draft.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, pricing.ErrInvalidQuantity.WithMessage("quantity must be greater than 0 for product " + item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, req.BusinessID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	orderID := uuid.NewString()
	items := make([]Item, 0, len(req.Items))
	lines := make([]pricing.Line, 0, len(req.Items))
	for _, in := range req.Items {
		p, ok := byID[in.ProductID]
		if !ok || !p.Available {
			return nil, product.ErrNotFound.WithMessage("product " + in.ProductID + " not found")
		}
		items = append(items, Item{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: p.ID,
			Quantity:  in.Quantity,
			UnitPrice: p.Price,
			Notes:     in.Notes,
		})
		lines = append(lines, pricing.Line{Quantity: in.Quantity, UnitPrice: p.Price})
	}

	discount, err := s.rules.Discount(ctx, req.BusinessID, req.DiscountID, req.Now)
	if err != nil {
		return nil, errors.Wrap(err, "resolve discount")
	}
	taxes, err := s.rules.Taxes(ctx, req.BusinessID, req.TaxIDs, req.Now)
	if err != nil {
		return nil, errors.Wrap(err, "resolve taxes")
	}

	totals, err := pricing.Compute(lines, discount, taxes)
	if err != nil {
		return nil, errors.Wrap(err, "compute totals")
	}

	taxIDs := make([]string, 0, len(taxes))
	for _, t := range taxes {
		taxIDs = append(taxIDs, t.ID)
	}

	o := &Order{
		ID:         orderID,
		BusinessID: req.BusinessID,
		SpotID:     req.SpotID,
		CreatedBy:  req.Actor,
		Items:      items,
		SubTotal:   totals.SubTotal,
		Discount:   totals.Discount,
		Tax:        totals.Tax,
		DiscountID: req.DiscountID,
		TaxIDs:     taxIDs,
		Status:     StatusDraft,
		CreatedAt:  req.Now,
		UpdatedAt:  req.Now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("business_id", o.BusinessID),
		zap.Stringer("total", o.Total()),
	)
	return o, nil
}

// Get returns the order with the given ID within a business.
func (s *Service) Get(ctx context.Context, businessID, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, businessID, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
