package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
)

var orderColumns = []string{
	"id", "business_id", "spot_id", "created_by", "sub_total", "discount", "tax",
	"COALESCE(discount_id, '')", "tax_ids", "status", "created_at", "updated_at",
}

type orderRepo struct {
	q querier
}

// Create persists the order and its items atomically.
func (r orderRepo) Create(ctx context.Context, o *order.Order) error {
	var discountID *string
	if o.DiscountID != "" {
		discountID = &o.DiscountID
	}
	taxIDs := o.TaxIDs
	if taxIDs == nil {
		taxIDs = []string{}
	}

	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := exec(ctx, tx, psql.Insert("orders").
			Columns("id", "business_id", "spot_id", "created_by", "sub_total", "discount", "tax",
				"discount_id", "tax_ids", "status", "created_at", "updated_at").
			Values(o.ID, o.BusinessID, o.SpotID, o.CreatedBy, o.SubTotal, o.Discount, o.Tax,
				discountID, taxIDs, string(o.Status), o.CreatedAt, o.UpdatedAt))
		if err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}
		if len(o.Items) == 0 {
			return nil
		}

		items := psql.Insert("order_items").
			Columns("id", "order_id", "position", "product_id", "quantity", "unit_price", "notes")
		for i, it := range o.Items {
			items = items.Values(it.ID, o.ID, i, it.ProductID, it.Quantity, it.UnitPrice, it.Notes)
		}
		if _, err := exec(ctx, tx, items); err != nil {
			return errors.Wrapf(err, "insert items of order %q", o.ID)
		}
		return nil
	})
}

func (r orderRepo) Get(ctx context.Context, businessID, id string) (*order.Order, error) {
	return r.get(ctx, businessID, id, "")
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r orderRepo) GetForUpdate(ctx context.Context, businessID, id string) (*order.Order, error) {
	return r.get(ctx, businessID, id, "FOR UPDATE")
}

func (r orderRepo) get(ctx context.Context, businessID, id, suffix string) (*order.Order, error) {
	b := psql.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": id, "business_id": businessID})
	if suffix != "" {
		b = b.Suffix(suffix)
	}
	rows, err := query(ctx, r.q, b)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	rows, err = query(ctx, r.q, psql.
		Select("id", "order_id", "product_id", "quantity", "unit_price", "notes").
		From("order_items").
		Where(sq.Eq{"order_id": id}).
		OrderBy("position"))
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %q", id)
	}
	o.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %q", id)
	}
	return o, nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := exec(ctx, r.q, psql.Update("orders").
		Set("status", string(o.Status)).
		Set("updated_at", o.UpdatedAt).
		Where(sq.Eq{"id": o.ID, "business_id": o.BusinessID}))
	if err != nil {
		return errors.Wrapf(err, "update status of order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.BusinessID, &o.SpotID, &o.CreatedBy, &o.SubTotal, &o.Discount, &o.Tax,
		&o.DiscountID, &o.TaxIDs, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return &o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Notes)
	return it, err
}
