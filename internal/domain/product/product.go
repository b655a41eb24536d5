package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.New(apperr.KindNotFound, "product_not_found", "product not found")

// Product is a sellable catalog item. Its price is copied onto order items at
// creation, so later price changes never alter existing orders.
type Product struct {
	ID         string
	BusinessID string
	Name       string
	Price      decimal.Decimal
	Category   string
	Available  bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context, businessID string) ([]Product, error)
	GetByIDs(ctx context.Context, businessID string, ids []string) ([]Product, error)
}
