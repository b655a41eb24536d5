package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
)

var (
	productColumns  = []string{"id", "business_id", "name", "price", "category", "available"}
	discountColumns = []string{"id", "business_id", "name", "type", "value", "active", "valid_from", "valid_to"}
	taxColumns      = []string{"id", "business_id", "name", "rate", "active", "effective_from", "effective_to"}
)

// List returns the products of a business ordered by ID.
func (s *Store) List(ctx context.Context, businessID string) ([]product.Product, error) {
	rows, err := query(ctx, s.pool, psql.Select(productColumns...).
		From("products").
		Where(sq.Eq{"business_id": businessID}).
		OrderBy("id"))
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByIDs returns the products of a business matching any of ids.
func (s *Store) GetByIDs(ctx context.Context, businessID string, ids []string) ([]product.Product, error) {
	rows, err := query(ctx, s.pool, psql.Select(productColumns...).
		From("products").
		Where(sq.Eq{"business_id": businessID}).
		Where("id = ANY(?)", ids))
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// UpsertProduct inserts or replaces a catalog product.
func (s *Store) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := exec(ctx, s.pool, psql.Insert("products").
		Columns(productColumns...).
		Values(p.ID, p.BusinessID, p.Name, p.Price, p.Category, p.Available).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, " +
			"category = EXCLUDED.category, available = EXCLUDED.available"))
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// FindDiscount implements pricing.Repository.
func (s *Store) FindDiscount(ctx context.Context, businessID, id string) (*pricing.Discount, error) {
	rows, err := query(ctx, s.pool, psql.Select(discountColumns...).
		From("discounts").
		Where(sq.Eq{"id": id, "business_id": businessID}))
	if err != nil {
		return nil, errors.Wrapf(err, "find discount %q", id)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrDiscountNotFound
		}
		return nil, errors.Wrapf(err, "find discount %q", id)
	}
	return &d, nil
}

// UpsertDiscount inserts or replaces a discount rule.
func (s *Store) UpsertDiscount(ctx context.Context, d pricing.Discount) error {
	_, err := exec(ctx, s.pool, psql.Insert("discounts").
		Columns(discountColumns...).
		Values(d.ID, d.BusinessID, d.Name, string(d.Type), d.Value, d.Active, d.ValidFrom, d.ValidTo).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, " +
			"value = EXCLUDED.value, active = EXCLUDED.active, valid_from = EXCLUDED.valid_from, valid_to = EXCLUDED.valid_to"))
	if err != nil {
		return errors.Wrapf(err, "upsert discount %q", d.ID)
	}
	return nil
}

// FindTax implements pricing.Repository.
func (s *Store) FindTax(ctx context.Context, businessID, id string) (*pricing.Tax, error) {
	rows, err := query(ctx, s.pool, psql.Select(taxColumns...).
		From("taxes").
		Where(sq.Eq{"id": id, "business_id": businessID}))
	if err != nil {
		return nil, errors.Wrapf(err, "find tax %q", id)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTax)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrTaxNotFound
		}
		return nil, errors.Wrapf(err, "find tax %q", id)
	}
	return &t, nil
}

// ListTaxes implements pricing.Repository.
func (s *Store) ListTaxes(ctx context.Context, businessID string) ([]pricing.Tax, error) {
	rows, err := query(ctx, s.pool, psql.Select(taxColumns...).
		From("taxes").
		Where(sq.Eq{"business_id": businessID}).
		OrderBy("id"))
	if err != nil {
		return nil, errors.Wrap(err, "list taxes")
	}
	return pgx.CollectRows(rows, scanTax)
}

// UpsertTax inserts or replaces a tax rule.
func (s *Store) UpsertTax(ctx context.Context, t pricing.Tax) error {
	_, err := exec(ctx, s.pool, psql.Insert("taxes").
		Columns(taxColumns...).
		Values(t.ID, t.BusinessID, t.Name, t.Rate, t.Active, t.EffectiveFrom, t.EffectiveTo).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rate = EXCLUDED.rate, active = EXCLUDED.active, " +
			"effective_from = EXCLUDED.effective_from, effective_to = EXCLUDED.effective_to"))
	if err != nil {
		return errors.Wrapf(err, "upsert tax %q", t.ID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.Price, &p.Category, &p.Available)
	return p, err
}

func scanDiscount(row pgx.CollectableRow) (pricing.Discount, error) {
	var (
		d   pricing.Discount
		typ string
	)
	err := row.Scan(&d.ID, &d.BusinessID, &d.Name, &typ, &d.Value, &d.Active, &d.ValidFrom, &d.ValidTo)
	d.Type = pricing.DiscountType(typ)
	return d, err
}

func scanTax(row pgx.CollectableRow) (pricing.Tax, error) {
	var t pricing.Tax
	err := row.Scan(&t.ID, &t.BusinessID, &t.Name, &t.Rate, &t.Active, &t.EffectiveFrom, &t.EffectiveTo)
	return t, err
}
