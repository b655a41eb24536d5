// Package giftcard manages stored-value gift cards. Balances change only
// through Reserve (payment) and Restore (refund).
package giftcard

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

var (
	ErrNotFound            = apperr.New(apperr.KindNotFound, "gift_card_not_found", "gift card not found")
	ErrInactive            = apperr.New(apperr.KindInvalidState, "gift_card_inactive", "gift card is inactive")
	ErrExpired             = apperr.New(apperr.KindInvalidState, "gift_card_expired", "gift card has expired")
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientBalance, "insufficient_balance", "gift card balance is insufficient")
	ErrInvalidAmount       = apperr.New(apperr.KindValidation, "invalid_gift_card_amount", "gift card amount must be greater than 0")
	ErrDuplicateCode       = apperr.New(apperr.KindInvalidState, "duplicate_gift_card_code", "gift card code already exists")
)

// GiftCard is a stored-value card. 0 <= Balance <= OriginalAmount.
type GiftCard struct {
	ID             string
	BusinessID     string
	Code           string
	Balance        decimal.Decimal
	OriginalAmount decimal.Decimal
	IssuedAt       time.Time
	ExpiresAt      *time.Time
	Active         bool
}

// Usable returns nil when the card can be charged at now.
func (g *GiftCard) Usable(now time.Time) error {
	if !g.Active {
		return ErrInactive
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// NormalizeCode canonicalises a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository persists gift cards.
type Repository interface {
	Get(ctx context.Context, businessID, code string) (*GiftCard, error)
	// GetForUpdate loads the card and holds its write lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, businessID, code string) (*GiftCard, error)
	UpdateBalance(ctx context.Context, g *GiftCard) error
	Create(ctx context.Context, g *GiftCard) error
}
