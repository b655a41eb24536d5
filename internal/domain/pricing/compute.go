package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute prices the given lines. The discount is applied to the subtotal
// first and tax is charged on what remains; rates of multiple taxes are summed.
// Intermediate values keep full precision and each component is rounded to
// 2 decimal places exactly once, so Totals.Total is exact.
func Compute(lines []Line, discount *Discount, taxes []Tax) (Totals, error) {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Totals{}, ErrInvalidQuantity
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, ErrInvalidPrice
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	discountAmount := decimal.Zero
	if discount != nil {
		var err error
		discountAmount, err = discountFor(discount, subtotal)
		if err != nil {
			return Totals{}, err
		}
	}

	rate := decimal.Zero
	for _, t := range taxes {
		if t.Rate.IsNegative() || t.Rate.GreaterThan(hundred) {
			return Totals{}, ErrInvalidRate
		}
		rate = rate.Add(t.Rate)
	}
	tax := subtotal.Sub(discountAmount).Mul(rate).Div(hundred)

	totals := Totals{
		SubTotal: subtotal.Round(2),
		Discount: discountAmount.Round(2),
		Tax:      tax.Round(2),
	}
	if totals.Total().IsNegative() {
		return Totals{}, ErrNegativeTotal
	}
	return totals, nil
}

func discountFor(d *Discount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if d.Value.IsNegative() {
		return decimal.Zero, ErrInvalidDiscount.WithMessage("discount value must not be negative")
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value.GreaterThan(hundred) {
			return decimal.Zero, ErrInvalidDiscount.WithMessage("percentage discount must not exceed 100")
		}
		return subtotal.Mul(d.Value).Div(hundred), nil
	case DiscountFixedAmount:
		return decimal.Min(d.Value, subtotal), nil
	default:
		return decimal.Zero, errors.Wrapf(ErrInvalidDiscount, "unsupported discount type %q", d.Type)
	}
}
