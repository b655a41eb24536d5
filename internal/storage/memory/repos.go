package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

type orderRepo struct{ u *unit }

func (r orderRepo) Create(_ context.Context, o *order.Order) error {
	if r.u.tx != nil {
		r.u.tx.orders[o.ID] = cloneOrder(o)
		return nil
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	r.u.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) Get(_ context.Context, businessID, id string) (*order.Order, error) {
	if r.u.tx != nil {
		if o, ok := r.u.tx.orders[id]; ok && o.BusinessID == businessID {
			return cloneOrder(o), nil
		}
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	o, ok := r.u.s.orders[id]
	if !ok || o.BusinessID != businessID {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, businessID, id string) (*order.Order, error) {
	if err := r.u.acquire(ctx, "order:"+id); err != nil {
		return nil, err
	}
	return r.Get(ctx, businessID, id)
}

func (r orderRepo) UpdateStatus(ctx context.Context, o *order.Order) error {
	cur, err := r.Get(ctx, o.BusinessID, o.ID)
	if err != nil {
		return err
	}
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	return r.Create(ctx, cur)
}

type paymentRepo struct{ u *unit }

func (r paymentRepo) ListByOrder(_ context.Context, orderID string) ([]payment.Payment, error) {
	r.u.s.mu.Lock()
	out := slices.Clone(r.u.s.payments[orderID])
	r.u.s.mu.Unlock()
	if r.u.tx != nil {
		for _, p := range r.u.tx.payments {
			if p.OrderID == orderID {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r paymentRepo) FindByIdempotencyKey(_ context.Context, businessID, key string) (*payment.Payment, error) {
	if r.u.tx != nil {
		for _, p := range r.u.tx.payments {
			if p.BusinessID == businessID && p.IdempotencyKey == key {
				return &p, nil
			}
		}
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	p, ok := r.u.s.paymentByKey(businessID, key)
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &p, nil
}

func (r paymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	if _, err := r.FindByIdempotencyKey(ctx, p.BusinessID, p.IdempotencyKey); err == nil {
		return payment.ErrIdempotencyConflict
	}
	if r.u.tx != nil {
		r.u.tx.payments = append(r.u.tx.payments, *p)
		return nil
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	r.u.s.payments[p.OrderID] = append(r.u.s.payments[p.OrderID], *p)
	return nil
}

func (r paymentRepo) ListRefunds(_ context.Context, orderID string) ([]payment.Refund, error) {
	r.u.s.mu.Lock()
	out := slices.Clone(r.u.s.refunds[orderID])
	r.u.s.mu.Unlock()
	if r.u.tx != nil {
		for _, rf := range r.u.tx.refunds {
			if rf.OrderID == orderID {
				out = append(out, rf)
			}
		}
	}
	return out, nil
}

func (r paymentRepo) CreateRefund(_ context.Context, rf *payment.Refund) error {
	if r.u.tx != nil {
		r.u.tx.refunds = append(r.u.tx.refunds, *rf)
		return nil
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	r.u.s.refunds[rf.OrderID] = append(r.u.s.refunds[rf.OrderID], *rf)
	return nil
}

func (r paymentRepo) ListRefundsByRequestKey(_ context.Context, businessID, key string) ([]payment.Refund, error) {
	var out []payment.Refund
	r.u.s.mu.Lock()
	for _, list := range r.u.s.refunds {
		for _, rf := range list {
			if rf.BusinessID == businessID && rf.RequestKey == key {
				out = append(out, rf)
			}
		}
	}
	r.u.s.mu.Unlock()
	if r.u.tx != nil {
		for _, rf := range r.u.tx.refunds {
			if rf.BusinessID == businessID && rf.RequestKey == key {
				out = append(out, rf)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r paymentRepo) RecordVoid(_ context.Context, v *payment.VoidedAttempt) error {
	if r.u.tx != nil {
		r.u.tx.voids = append(r.u.tx.voids, *v)
		return nil
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	if _, ok := r.u.s.voids[voidKey(v.BusinessID, v.IdempotencyKey)]; !ok {
		r.u.s.voids[voidKey(v.BusinessID, v.IdempotencyKey)] = *v
	}
	return nil
}

func (r paymentRepo) IsVoided(_ context.Context, businessID, key string) (bool, error) {
	if r.u.tx != nil {
		for _, v := range r.u.tx.voids {
			if v.BusinessID == businessID && v.IdempotencyKey == key {
				return true, nil
			}
		}
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	_, ok := r.u.s.voids[voidKey(businessID, key)]
	return ok, nil
}

type giftCardRepo struct{ u *unit }

func (r giftCardRepo) Get(_ context.Context, businessID, code string) (*giftcard.GiftCard, error) {
	if r.u.tx != nil {
		if g, ok := r.u.tx.cards[code]; ok && g.BusinessID == businessID {
			return cloneCard(g), nil
		}
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	g, ok := r.u.s.cards[code]
	if !ok || g.BusinessID != businessID {
		return nil, giftcard.ErrNotFound
	}
	return cloneCard(g), nil
}

func (r giftCardRepo) GetForUpdate(ctx context.Context, businessID, code string) (*giftcard.GiftCard, error) {
	if err := r.u.acquire(ctx, "giftcard:"+code); err != nil {
		return nil, err
	}
	return r.Get(ctx, businessID, code)
}

func (r giftCardRepo) UpdateBalance(ctx context.Context, g *giftcard.GiftCard) error {
	cur, err := r.Get(ctx, g.BusinessID, g.Code)
	if err != nil {
		return err
	}
	cur.Balance = g.Balance
	if r.u.tx != nil {
		r.u.tx.cards[cur.Code] = cur
		return nil
	}
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	r.u.s.cards[cur.Code] = cur
	return nil
}

func (r giftCardRepo) Create(_ context.Context, g *giftcard.GiftCard) error {
	r.u.s.mu.Lock()
	defer r.u.s.mu.Unlock()
	if _, ok := r.u.s.cards[g.Code]; ok {
		return giftcard.ErrDuplicateCode
	}
	if r.u.tx != nil {
		if _, ok := r.u.tx.cards[g.Code]; ok {
			return giftcard.ErrDuplicateCode
		}
		r.u.tx.cards[g.Code] = cloneCard(g)
		return nil
	}
	r.u.s.cards[g.Code] = cloneCard(g)
	return nil
}

type eventStore struct{ u *unit }

func (e eventStore) Append(_ context.Context, events ...event.Event) error {
	if e.u.tx != nil {
		e.u.tx.events = append(e.u.tx.events, events...)
		return nil
	}
	e.u.s.mu.Lock()
	defer e.u.s.mu.Unlock()
	e.u.s.events = append(e.u.s.events, events...)
	return nil
}

// Pending implements event.Outbox.
func (s *Store) Pending(_ context.Context, limit, maxAttempts int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.PublishedAt != nil || e.Attempts >= maxAttempts {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Backlog counts events not yet published.
func (s *Store) Backlog(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.PublishedAt == nil {
			n++
		}
	}
	return n, nil
}

// MarkPublished implements event.Outbox.
func (s *Store) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].PublishedAt = &at
			return nil
		}
	}
	return nil
}

// MarkFailed implements event.Outbox.
func (s *Store) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Attempts++
			s.events[i].LastError = reason
			return nil
		}
	}
	return nil
}

// AllEvents returns a copy of every recorded event.
func (s *Store) AllEvents() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}
