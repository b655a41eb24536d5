package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Resolver turns discount and tax references into applicable rules.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Discount looks up the discount with the given ID and checks that it applies
// at now. An empty id yields no discount.
func (r *Resolver) Discount(ctx context.Context, businessID, id string, now time.Time) (*Discount, error) {
	if id == "" {
		return nil, nil
	}
	d, err := r.repo.FindDiscount(ctx, businessID, id)
	if err != nil {
		if errors.Is(err, ErrDiscountNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}
	if !d.Applicable(now) {
		return nil, ErrInvalidReference.WithMessage("discount " + d.Name + " is not applicable")
	}
	return d, nil
}

// Taxes resolves the named taxes; an id named twice is applied once. With no
// ids, every tax of the business that is applicable at now is returned.
func (r *Resolver) Taxes(ctx context.Context, businessID string, ids []string, now time.Time) ([]Tax, error) {
	if len(ids) == 0 {
		all, err := r.repo.ListTaxes(ctx, businessID)
		if err != nil {
			return nil, errors.Wrap(err, "list taxes")
		}
		applicable := make([]Tax, 0, len(all))
		for i := range all {
			if all[i].Applicable(now) {
				applicable = append(applicable, all[i])
			}
		}
		return applicable, nil
	}

	taxes := make([]Tax, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		t, err := r.repo.FindTax(ctx, businessID, id)
		if err != nil {
			if errors.Is(err, ErrTaxNotFound) {
				return nil, ErrTaxNotFound
			}
			return nil, errors.Wrap(err, "lookup tax")
		}
		if !t.Applicable(now) {
			return nil, ErrInvalidReference.WithMessage("tax " + t.Name + " is not applicable")
		}
		taxes = append(taxes, *t)
	}
	return taxes, nil
}
