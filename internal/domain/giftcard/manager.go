package giftcard

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager applies balance rules on top of a Repository. When the repository
// is bound to a transaction, Reserve and Restore are serialised per card by
// the row lock taken in GetForUpdate.
type Manager struct {
	repo Repository
}

// NewManager creates a Manager backed by repo.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo}
}

// Validate returns the card if it exists and can be charged at now.
func (m *Manager) Validate(ctx context.Context, businessID, code string, now time.Time) (*GiftCard, error) {
	g, err := m.repo.Get(ctx, businessID, NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrap(err, "get gift card")
	}
	if err := g.Usable(now); err != nil {
		return nil, err
	}
	return g, nil
}

// Reserve decrements the card balance by amount. On any error the balance is
// left untouched.
func (m *Manager) Reserve(ctx context.Context, businessID, code string, amount decimal.Decimal, now time.Time) (*GiftCard, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	g, err := m.repo.GetForUpdate(ctx, businessID, NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrap(err, "lock gift card")
	}
	if err := g.Usable(now); err != nil {
		return nil, err
	}
	if g.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance.WithMessage("gift card balance " + g.Balance.StringFixed(2) + " is less than " + amount.StringFixed(2))
	}
	g.Balance = g.Balance.Sub(amount)
	if err := m.repo.UpdateBalance(ctx, g); err != nil {
		return nil, errors.Wrap(err, "update gift card balance")
	}
	return g, nil
}

// Restore increments the card balance by amount, capped at the original
// amount. It returns the amount actually restored. Inactive or expired cards
// are still restored.
func (m *Manager) Restore(ctx context.Context, businessID, code string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	g, err := m.repo.GetForUpdate(ctx, businessID, NormalizeCode(code))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "lock gift card")
	}
	restored := decimal.Min(amount, g.OriginalAmount.Sub(g.Balance))
	if !restored.IsPositive() {
		return decimal.Zero, nil
	}
	g.Balance = g.Balance.Add(restored)
	if err := m.repo.UpdateBalance(ctx, g); err != nil {
		return decimal.Zero, errors.Wrap(err, "update gift card balance")
	}
	return restored, nil
}

// IssueRequest holds the input for issuing a card.
type IssueRequest struct {
	BusinessID string
	// Code is generated when empty.
	Code      string
	Amount    decimal.Decimal
	ExpiresAt *time.Time
	Now       time.Time
}

// Issue creates a new active card whose balance equals its original amount.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*GiftCard, error) {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, ErrInvalidAmount
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(req.Now) {
		return nil, ErrExpired.WithMessage("expiry must be in the future")
	}
	code := NormalizeCode(req.Code)
	if code == "" {
		code = GenerateCode()
	}
	g := &GiftCard{
		ID:             uuid.NewString(),
		BusinessID:     req.BusinessID,
		Code:           code,
		Balance:        req.Amount,
		OriginalAmount: req.Amount,
		IssuedAt:       req.Now,
		ExpiresAt:      req.ExpiresAt,
		Active:         true,
	}
	if err := m.repo.Create(ctx, g); err != nil {
		return nil, errors.Wrap(err, "create gift card")
	}
	return g, nil
}

// GenerateCode returns a random code in the form GC-XXXX-XXXX-XXXX.
func GenerateCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "GC-" + raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12]
}
