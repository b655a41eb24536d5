package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	discounts map[string]*Discount
	taxes     []Tax
	err       error
}

func (m *mockRepository) FindDiscount(_ context.Context, businessID, id string) (*Discount, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.discounts[id]
	if !ok || d.BusinessID != businessID {
		return nil, ErrDiscountNotFound
	}
	return d, nil
}

func (m *mockRepository) FindTax(_ context.Context, businessID, id string) (*Tax, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.taxes {
		if m.taxes[i].ID == id && m.taxes[i].BusinessID == businessID {
			return &m.taxes[i], nil
		}
	}
	return nil, ErrTaxNotFound
}

func (m *mockRepository) ListTaxes(_ context.Context, businessID string) ([]Tax, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []Tax
	for _, t := range m.taxes {
		if t.BusinessID == businessID {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestResolver_Discount(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)

	repo := &mockRepository{discounts: map[string]*Discount{
		"spring":  {ID: "spring", BusinessID: "b1", Name: "Spring", Type: DiscountPercentage, Value: d("10"), Active: true},
		"expired": {ID: "expired", BusinessID: "b1", Name: "Winter", Type: DiscountPercentage, Value: d("10"), Active: true, ValidTo: &past},
		"off":     {ID: "off", BusinessID: "b1", Name: "Off", Type: DiscountFixedAmount, Value: d("1"), Active: false},
	}}
	r := NewResolver(repo)
	ctx := context.Background()

	t.Run("empty id", func(t *testing.T) {
		got, err := r.Discount(ctx, "b1", "", now)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
	t.Run("applicable", func(t *testing.T) {
		got, err := r.Discount(ctx, "b1", "spring", now)
		require.NoError(t, err)
		assert.Equal(t, "Spring", got.Name)
	})
	t.Run("other business", func(t *testing.T) {
		_, err := r.Discount(ctx, "b2", "spring", now)
		require.ErrorIs(t, err, ErrDiscountNotFound)
	})
	t.Run("expired", func(t *testing.T) {
		_, err := r.Discount(ctx, "b1", "expired", now)
		require.ErrorIs(t, err, ErrInvalidReference)
	})
	t.Run("inactive", func(t *testing.T) {
		_, err := r.Discount(ctx, "b1", "off", now)
		require.ErrorIs(t, err, ErrInvalidReference)
	})
	t.Run("repository failure", func(t *testing.T) {
		failing := NewResolver(&mockRepository{err: errors.New("connection reset")})
		_, err := failing.Discount(ctx, "b1", "spring", now)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDiscountNotFound)
	})
}

func TestResolver_Taxes(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)

	repo := &mockRepository{taxes: []Tax{
		{ID: "vat", BusinessID: "b1", Name: "VAT", Rate: d("21"), Active: true},
		{ID: "city", BusinessID: "b1", Name: "City", Rate: d("1"), Active: true},
		{ID: "next", BusinessID: "b1", Name: "Next year", Rate: d("5"), Active: true, EffectiveFrom: &future},
		{ID: "gst", BusinessID: "b2", Name: "GST", Rate: d("10"), Active: true},
	}}
	r := NewResolver(repo)
	ctx := context.Background()

	t.Run("all applicable when none named", func(t *testing.T) {
		got, err := r.Taxes(ctx, "b1", nil, now)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "vat", got[0].ID)
		assert.Equal(t, "city", got[1].ID)
	})
	t.Run("named", func(t *testing.T) {
		got, err := r.Taxes(ctx, "b1", []string{"city"}, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "city", got[0].ID)
	})
	t.Run("named twice applies once", func(t *testing.T) {
		got, err := r.Taxes(ctx, "b1", []string{"vat", "city", "vat"}, now)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "vat", got[0].ID)
		assert.Equal(t, "city", got[1].ID)
	})
	t.Run("named but not yet effective", func(t *testing.T) {
		_, err := r.Taxes(ctx, "b1", []string{"vat", "next"}, now)
		require.ErrorIs(t, err, ErrInvalidReference)
	})
	t.Run("unknown", func(t *testing.T) {
		_, err := r.Taxes(ctx, "b1", []string{"gst"}, now)
		require.ErrorIs(t, err, ErrTaxNotFound)
	})
}
