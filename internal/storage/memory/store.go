// Package memory is an in-process implementation of the storage contracts.
// It backs unit tests and the offline development mode and follows the same
// locking discipline as the PostgreSQL store: per-key write locks held until
// the transaction ends and writes applied atomically at commit.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/auth"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

var (
	_ settlement.Transactor = (*Store)(nil)
	_ settlement.UnitOfWork = (*Store)(nil)
	_ product.Repository    = (*Store)(nil)
	_ pricing.Repository    = (*Store)(nil)
	_ auth.Repository       = (*Store)(nil)
	_ event.Outbox          = (*Store)(nil)
)

// Store holds all state in maps guarded by mu. Values are copied on the way
// in and out so callers never share memory with the store.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	payments  map[string][]payment.Payment
	refunds   map[string][]payment.Refund
	voids     map[string]payment.VoidedAttempt
	cards     map[string]*giftcard.GiftCard
	events    []event.Event
	products  map[string]product.Product
	discounts map[string]pricing.Discount
	taxes     []pricing.Tax
	apiKeys   map[string]auth.APIKeyInfo

	locks *keyedLocks
	auto  *unit
}

// New creates an empty Store.
func New() *Store {
	s := &Store{
		orders:    make(map[string]*order.Order),
		payments:  make(map[string][]payment.Payment),
		refunds:   make(map[string][]payment.Refund),
		voids:     make(map[string]payment.VoidedAttempt),
		cards:     make(map[string]*giftcard.GiftCard),
		products:  make(map[string]product.Product),
		discounts: make(map[string]pricing.Discount),
		apiKeys:   make(map[string]auth.APIKeyInfo),
		locks:     newKeyedLocks(),
	}
	s.auto = &unit{s: s}
	return s
}

// Orders returns an auto-committing order repository.
func (s *Store) Orders() order.Repository { return s.auto.Orders() }

// Payments returns an auto-committing payment repository.
func (s *Store) Payments() payment.Repository { return s.auto.Payments() }

// GiftCards returns an auto-committing gift card repository.
func (s *Store) GiftCards() giftcard.Repository { return s.auto.GiftCards() }

// Events returns an auto-committing event store.
func (s *Store) Events() event.Store { return s.auto.Events() }

// AddProduct inserts or replaces a catalog product.
func (s *Store) AddProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// AddDiscount inserts or replaces a discount rule.
func (s *Store) AddDiscount(d pricing.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[d.ID] = d
}

// AddTax inserts a tax rule.
func (s *Store) AddTax(t pricing.Tax) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxes = append(s.taxes, t)
}

// AddAPIKey registers a key under its hash.
func (s *Store) AddAPIKey(k auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[k.KeyHash] = k
}

// List returns the products of a business ordered by ID.
func (s *Store) List(_ context.Context, businessID string) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []product.Product
	for _, p := range s.products {
		if p.BusinessID == businessID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByIDs returns the products of a business matching any of ids.
func (s *Store) GetByIDs(_ context.Context, businessID string, ids []string) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []product.Product
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		if p, ok := s.products[id]; ok && p.BusinessID == businessID {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindDiscount implements pricing.Repository.
func (s *Store) FindDiscount(_ context.Context, businessID, id string) (*pricing.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discounts[id]
	if !ok || d.BusinessID != businessID {
		return nil, pricing.ErrDiscountNotFound
	}
	return &d, nil
}

// FindTax implements pricing.Repository.
func (s *Store) FindTax(_ context.Context, businessID, id string) (*pricing.Tax, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.taxes {
		if t.ID == id && t.BusinessID == businessID {
			return &t, nil
		}
	}
	return nil, pricing.ErrTaxNotFound
}

// ListTaxes implements pricing.Repository.
func (s *Store) ListTaxes(_ context.Context, businessID string) ([]pricing.Tax, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pricing.Tax
	for _, t := range s.taxes {
		if t.BusinessID == businessID {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return &k, nil
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.TaxIDs = slices.Clone(o.TaxIDs)
	return &cp
}

func cloneCard(g *giftcard.GiftCard) *giftcard.GiftCard {
	cp := *g
	return &cp
}
