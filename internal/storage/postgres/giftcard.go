package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
)

var giftCardColumns = []string{
	"id", "business_id", "code", "balance", "original_amount", "issued_at", "expires_at", "active",
}

type giftCardRepo struct {
	q querier
}

func (r giftCardRepo) Get(ctx context.Context, businessID, code string) (*giftcard.GiftCard, error) {
	return r.get(ctx, businessID, code, "")
}

// GetForUpdate locks the card row until the surrounding transaction ends.
func (r giftCardRepo) GetForUpdate(ctx context.Context, businessID, code string) (*giftcard.GiftCard, error) {
	return r.get(ctx, businessID, code, "FOR UPDATE")
}

func (r giftCardRepo) get(ctx context.Context, businessID, code, suffix string) (*giftcard.GiftCard, error) {
	b := psql.Select(giftCardColumns...).
		From("gift_cards").
		Where(sq.Eq{"business_id": businessID, "code": code})
	if suffix != "" {
		b = b.Suffix(suffix)
	}
	rows, err := query(ctx, r.q, b)
	if err != nil {
		return nil, errors.Wrapf(err, "get gift card %q", code)
	}
	g, err := pgx.CollectExactlyOneRow(rows, scanGiftCard)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, giftcard.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get gift card %q", code)
	}
	return &g, nil
}

func (r giftCardRepo) UpdateBalance(ctx context.Context, g *giftcard.GiftCard) error {
	tag, err := exec(ctx, r.q, psql.Update("gift_cards").
		Set("balance", g.Balance).
		Where(sq.Eq{"business_id": g.BusinessID, "code": g.Code}))
	if err != nil {
		return errors.Wrapf(err, "update gift card %q", g.Code)
	}
	if tag.RowsAffected() == 0 {
		return giftcard.ErrNotFound
	}
	return nil
}

func (r giftCardRepo) Create(ctx context.Context, g *giftcard.GiftCard) error {
	_, err := exec(ctx, r.q, psql.Insert("gift_cards").
		Columns(giftCardColumns...).
		Values(g.ID, g.BusinessID, g.Code, g.Balance, g.OriginalAmount, g.IssuedAt, g.ExpiresAt, g.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return giftcard.ErrDuplicateCode
		}
		return errors.Wrapf(err, "insert gift card %q", g.Code)
	}
	return nil
}

func scanGiftCard(row pgx.CollectableRow) (giftcard.GiftCard, error) {
	var g giftcard.GiftCard
	err := row.Scan(&g.ID, &g.BusinessID, &g.Code, &g.Balance, &g.OriginalAmount, &g.IssuedAt, &g.ExpiresAt, &g.Active)
	return g, err
}
