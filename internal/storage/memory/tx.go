package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

// keyedLocks hands out one exclusive lock per key. Waiting honours context
// cancellation.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]chan struct{})}
}

func (l *keyedLocks) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	ch, ok := l.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.m[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyedLocks) unlock(key string) {
	l.mu.Lock()
	ch := l.m[key]
	l.mu.Unlock()
	<-ch
}

// txState buffers the writes of one transaction.
type txState struct {
	held     map[string]bool
	orders   map[string]*order.Order
	cards    map[string]*giftcard.GiftCard
	payments []payment.Payment
	refunds  []payment.Refund
	voids    []payment.VoidedAttempt
	events   []event.Event
}

// unit is a UnitOfWork. With a nil tx every write is applied immediately.
type unit struct {
	s  *Store
	tx *txState
}

func (u *unit) Orders() order.Repository       { return orderRepo{u} }
func (u *unit) Payments() payment.Repository   { return paymentRepo{u} }
func (u *unit) GiftCards() giftcard.Repository { return giftCardRepo{u} }
func (u *unit) Events() event.Store            { return eventStore{u} }

// acquire takes the lock for key once per transaction. Outside a
// transaction it is a no-op.
func (u *unit) acquire(ctx context.Context, key string) error {
	if u.tx == nil || u.tx.held[key] {
		return nil
	}
	if err := u.s.locks.lock(ctx, key); err != nil {
		return errors.Wrapf(err, "acquire lock %s", key)
	}
	u.tx.held[key] = true
	return nil
}

// RunInTx implements settlement.Transactor.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, uow settlement.UnitOfWork) error) error {
	tx := &txState{
		held:   make(map[string]bool),
		orders: make(map[string]*order.Order),
		cards:  make(map[string]*giftcard.GiftCard),
	}
	defer func() {
		for key := range tx.held {
			s.locks.unlock(key)
		}
	}()

	if err := fn(ctx, &unit{s: s, tx: tx}); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *txState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range tx.payments {
		if _, ok := s.paymentByKey(p.BusinessID, p.IdempotencyKey); ok {
			return payment.ErrIdempotencyConflict
		}
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for code, g := range tx.cards {
		s.cards[code] = g
	}
	for _, p := range tx.payments {
		s.payments[p.OrderID] = append(s.payments[p.OrderID], p)
	}
	for _, r := range tx.refunds {
		s.refunds[r.OrderID] = append(s.refunds[r.OrderID], r)
	}
	for _, v := range tx.voids {
		if _, ok := s.voids[voidKey(v.BusinessID, v.IdempotencyKey)]; !ok {
			s.voids[voidKey(v.BusinessID, v.IdempotencyKey)] = v
		}
	}
	s.events = append(s.events, tx.events...)
	return nil
}

// paymentByKey must be called with mu held.
func (s *Store) paymentByKey(businessID, key string) (payment.Payment, bool) {
	for _, list := range s.payments {
		for _, p := range list {
			if p.BusinessID == businessID && p.IdempotencyKey == key {
				return p, true
			}
		}
	}
	return payment.Payment{}, false
}

func voidKey(businessID, key string) string {
	return businessID + "\x00" + key
}
