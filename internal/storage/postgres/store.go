package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Store is the PostgreSQL storage root. Repositories obtained from it
// directly run each statement in its own implicit transaction; RunInTx
// scopes them to one explicit transaction.
type Store struct {
	pool *pgxpool.Pool
	unit
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, unit: unit{q: pool}}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// RunInTx implements settlement.Transactor. Row locks taken through
// GetForUpdate are held until fn returns.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, uow settlement.UnitOfWork) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, unit{q: tx})
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping database")
	}
	return nil
}

// unit implements settlement.UnitOfWork over a querier.
type unit struct {
	q querier
}

func (u unit) Orders() order.Repository       { return orderRepo{q: u.q} }
func (u unit) Payments() payment.Repository   { return paymentRepo{q: u.q} }
func (u unit) GiftCards() giftcard.Repository { return giftCardRepo{q: u.q} }
func (u unit) Events() event.Store            { return eventStore{q: u.q} }
