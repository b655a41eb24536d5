package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount, capped at the subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

var (
	ErrDiscountNotFound = apperr.New(apperr.KindNotFound, "discount_not_found", "discount not found")
	ErrTaxNotFound      = apperr.New(apperr.KindNotFound, "tax_not_found", "tax not found")
	// ErrInvalidReference is returned when a discount or tax exists but is
	// inactive or outside its validity window.
	ErrInvalidReference = apperr.New(apperr.KindValidation, "invalid_reference", "referenced rule is not applicable")
	ErrInvalidQuantity  = apperr.New(apperr.KindValidation, "invalid_quantity", "quantity must be greater than 0")
	ErrInvalidPrice     = apperr.New(apperr.KindValidation, "invalid_price", "unit price must not be negative")
	ErrInvalidRate      = apperr.New(apperr.KindValidation, "invalid_rate", "rate must be between 0 and 100")
	ErrInvalidDiscount  = apperr.New(apperr.KindValidation, "invalid_discount", "discount is not valid")
	ErrNegativeTotal    = apperr.New(apperr.KindValidation, "negative_total", "order total must not be negative")
)

// Discount is a business-level discount rule.
type Discount struct {
	ID         string
	BusinessID string
	Name       string
	Type       DiscountType
	Value      decimal.Decimal
	Active     bool
	ValidFrom  *time.Time
	ValidTo    *time.Time
}

// Applicable reports whether the discount is active and now falls within its
// validity window. An unset bound is open.
func (d *Discount) Applicable(now time.Time) bool {
	return d.Active && inWindow(now, d.ValidFrom, d.ValidTo)
}

// Tax is a business-level tax rule. Rate is a percentage of the taxable amount.
type Tax struct {
	ID            string
	BusinessID    string
	Name          string
	Rate          decimal.Decimal
	Active        bool
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

// Applicable reports whether the tax is active and effective at now.
func (t *Tax) Applicable(now time.Time) bool {
	return t.Active && inWindow(now, t.EffectiveFrom, t.EffectiveTo)
}

// Line is a priced line item.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Totals holds the rounded money components of an order. The total is always
// derived from them.
type Totals struct {
	SubTotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
}

// Total returns SubTotal - Discount + Tax.
func (t Totals) Total() decimal.Decimal {
	return t.SubTotal.Sub(t.Discount).Add(t.Tax)
}

// Repository provides lookups of discount and tax rules.
type Repository interface {
	FindDiscount(ctx context.Context, businessID, id string) (*Discount, error)
	FindTax(ctx context.Context, businessID, id string) (*Tax, error)
	ListTaxes(ctx context.Context, businessID string) ([]Tax, error)
}

func inWindow(now time.Time, from, to *time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if to != nil && now.After(*to) {
		return false
	}
	return true
}
