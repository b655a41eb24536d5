package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

func seedOrder(t *testing.T, s *Store) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:         "o1",
		BusinessID: "b1",
		Items:      []order.Item{{ID: "i1", ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		SubTotal:   decimal.NewFromInt(10),
		Status:     order.StatusPlaced,
	}
	require.NoError(t, s.Orders().Create(context.Background(), o))
	return o
}

func TestStore_CommitAppliesWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOrder(t, s)

	err := s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		o, err := uow.Orders().GetForUpdate(ctx, "b1", "o1")
		if err != nil {
			return err
		}
		o.Status = order.StatusPaid
		if err := uow.Orders().UpdateStatus(ctx, o); err != nil {
			return err
		}
		if err := uow.Payments().Create(ctx, &payment.Payment{
			ID: "p1", BusinessID: "b1", OrderID: "o1", Seq: 1,
			Amount: decimal.NewFromInt(10), Details: payment.Cash{}, IdempotencyKey: "k1",
		}); err != nil {
			return err
		}

		// Reads inside the transaction see staged writes.
		got, err := uow.Orders().Get(ctx, "b1", "o1")
		if err != nil {
			return err
		}
		assert.Equal(t, order.StatusPaid, got.Status)
		list, err := uow.Payments().ListByOrder(ctx, "o1")
		if err != nil {
			return err
		}
		assert.Len(t, list, 1)

		// Nothing is visible outside before commit.
		outside, err := s.Orders().Get(ctx, "b1", "o1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPlaced, outside.Status)

		return uow.Events().Append(ctx, event.Event{ID: "e1", Type: event.OrderPaid})
	})
	require.NoError(t, err)

	got, err := s.Orders().Get(ctx, "b1", "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	list, err := s.Payments().ListByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, s.AllEvents(), 1)
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOrder(t, s)
	require.NoError(t, s.GiftCards().Create(ctx, &giftcard.GiftCard{
		ID: "g1", BusinessID: "b1", Code: "GC1", Balance: decimal.NewFromInt(10), Active: true,
	}))

	errBoom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		g, err := uow.GiftCards().GetForUpdate(ctx, "b1", "GC1")
		if err != nil {
			return err
		}
		g.Balance = decimal.Zero
		if err := uow.GiftCards().UpdateBalance(ctx, g); err != nil {
			return err
		}
		if err := uow.Payments().CreateRefund(ctx, &payment.Refund{ID: "r1", OrderID: "o1"}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	g, err := s.GiftCards().Get(ctx, "b1", "GC1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(g.Balance))
	refunds, err := s.Payments().ListRefunds(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, refunds)

	// The lock was released with the transaction.
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		_, err := uow.GiftCards().GetForUpdate(ctx, "b1", "GC1")
		return err
	}))
}

func TestStore_VoidedAttempts(t *testing.T) {
	ctx := context.Background()
	s := New()
	void := &payment.VoidedAttempt{BusinessID: "b1", IdempotencyKey: "k1", OrderID: "o1", TransactionID: "ch_1"}

	errBoom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		if err := uow.Payments().RecordVoid(ctx, void); err != nil {
			return err
		}
		voided, err := uow.Payments().IsVoided(ctx, "b1", "k1")
		require.NoError(t, err)
		assert.True(t, voided)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	voided, err := s.Payments().IsVoided(ctx, "b1", "k1")
	require.NoError(t, err)
	assert.False(t, voided)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		return uow.Payments().RecordVoid(ctx, void)
	}))
	require.NoError(t, s.Payments().RecordVoid(ctx, void))
	voided, err = s.Payments().IsVoided(ctx, "b1", "k1")
	require.NoError(t, err)
	assert.True(t, voided)
	voided, err = s.Payments().IsVoided(ctx, "b2", "k1")
	require.NoError(t, err)
	assert.False(t, voided)
}

func TestStore_RefundsByRequestKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOrder(t, s)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		for _, id := range []string{"r1", "r2"} {
			if err := uow.Payments().CreateRefund(ctx, &payment.Refund{ID: id, BusinessID: "b1", OrderID: "o1", RequestKey: "refund-1"}); err != nil {
				return err
			}
		}
		got, err := uow.Payments().ListRefundsByRequestKey(ctx, "b1", "refund-1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
		return nil
	}))
	require.NoError(t, s.Payments().CreateRefund(ctx, &payment.Refund{ID: "r3", BusinessID: "b1", OrderID: "o1", RequestKey: "refund-2"}))

	got, err := s.Payments().ListRefundsByRequestKey(ctx, "b1", "refund-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)

	got, err = s.Payments().ListRefundsByRequestKey(ctx, "b2", "refund-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_LockWaitHonoursContext(t *testing.T) {
	s := New()
	seedOrder(t, s)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.RunInTx(context.Background(), func(ctx context.Context, uow settlement.UnitOfWork) error {
			if _, err := uow.Orders().GetForUpdate(ctx, "b1", "o1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		_, err := uow.Orders().GetForUpdate(ctx, "b1", "o1")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestStore_LockIsReentrant(t *testing.T) {
	s := New()
	seedOrder(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		for range 3 {
			if _, err := uow.Orders().GetForUpdate(ctx, "b1", "o1"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestStore_IdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOrder(t, s)
	p := &payment.Payment{ID: "p1", BusinessID: "b1", OrderID: "o1", Seq: 1, Amount: decimal.NewFromInt(1), Details: payment.Cash{}, IdempotencyKey: "k1"}
	require.NoError(t, s.Payments().Create(ctx, p))

	dup := *p
	dup.ID = "p2"
	require.ErrorIs(t, s.Payments().Create(ctx, &dup), payment.ErrIdempotencyConflict)

	found, err := s.Payments().FindByIdempotencyKey(ctx, "b1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)

	_, err = s.Payments().FindByIdempotencyKey(ctx, "b2", "k1")
	require.ErrorIs(t, err, payment.ErrNotFound)
}

func TestStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOrder(t, s)
	s.AddProduct(product.Product{ID: "p1", BusinessID: "b1", Name: "Coffee", Available: true})
	s.AddProduct(product.Product{ID: "p2", BusinessID: "b2", Name: "Tea", Available: true})

	_, err := s.Orders().Get(ctx, "b2", "o1")
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err := s.GetByIDs(ctx, "b1", []string{"p1", "p2", "p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestStore_Outbox(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Events().Append(ctx,
		event.Event{ID: "e1", Type: event.OrderPlaced},
		event.Event{ID: "e2", Type: event.PaymentRecorded},
		event.Event{ID: "e3", Type: event.OrderPaid},
	))

	pending, err := s.Pending(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].ID)

	require.NoError(t, s.MarkPublished(ctx, "e1", time.Now()))
	require.NoError(t, s.MarkFailed(ctx, "e2", "broker down"))

	pending, err = s.Pending(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e2", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	pending, err = s.Pending(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e3", pending[0].ID)

	backlog, err := s.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backlog)
}
