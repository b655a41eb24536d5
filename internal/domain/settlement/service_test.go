package settlement_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/memory"
)

// --- Mock implementations ---

type mockProcessor struct {
	mu sync.Mutex

	confirmStatus payment.IntentStatus
	confirmErr    error
	blockConfirm  bool

	refundStatus payment.RefundStatus
	refundErr    error
	blockRefund  bool

	intents    []payment.IntentRequest
	confirms   int
	refundReqs []payment.ProcessorRefundRequest
}

func (m *mockProcessor) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, req)
	return &payment.Intent{ID: "pi_" + req.IdempotencyKey, ClientSecret: "secret", Status: payment.IntentRequiresAction}, nil
}

func (m *mockProcessor) Confirm(ctx context.Context, intentID, _ string) (*payment.Authorization, error) {
	m.mu.Lock()
	m.confirms++
	block, status, err := m.blockConfirm, m.confirmStatus, m.confirmErr
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = payment.IntentSucceeded
	}
	return &payment.Authorization{
		IntentID:          intentID,
		Status:            status,
		TransactionID:     "ch_" + intentID,
		AuthorizationCode: "AUTH01",
		DeclineReason:     "card_declined",
	}, nil
}

func (m *mockProcessor) Refund(ctx context.Context, req payment.ProcessorRefundRequest) (*payment.ProcessorRefund, error) {
	m.mu.Lock()
	m.refundReqs = append(m.refundReqs, req)
	block, status, err := m.blockRefund, m.refundStatus, m.refundErr
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = payment.RefundSucceeded
	}
	return &payment.ProcessorRefund{ID: "re_" + req.TransactionID, Status: status}, nil
}

// failingEvents wraps a transactor so that appending events fails, which
// aborts the transaction after every other write.
type failingEvents struct {
	settlement.Transactor
}

type failingUnit struct {
	settlement.UnitOfWork
}

func (failingUnit) Events() event.Store { return failingStore{} }

type failingStore struct{}

func (failingStore) Append(context.Context, ...event.Event) error {
	return errors.New("outbox unavailable")
}

func (f failingEvents) RunInTx(ctx context.Context, fn func(context.Context, settlement.UnitOfWork) error) error {
	return f.Transactor.RunInTx(ctx, func(ctx context.Context, uow settlement.UnitOfWork) error {
		return fn(ctx, failingUnit{uow})
	})
}

// --- Helpers ---

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	svc   *settlement.Service
	store *memory.Store
	proc  *mockProcessor

	refunds int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	proc := &mockProcessor{}
	svc, err := settlement.NewService(store, proc, settlement.Config{
		Currency:         "EUR",
		ProcessorTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, proc: proc}
}

// addOrder stores an order with the given components.
func (f *fixture) addOrder(t *testing.T, subtotal, discount, tax string, status order.Status) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:         "order-" + t.Name(),
		BusinessID: "b1",
		SpotID:     "table-1",
		CreatedBy:  "emp-1",
		Items: []order.Item{
			{ID: "i1", ProductID: "p1", Quantity: 1, UnitPrice: dec(subtotal)},
		},
		SubTotal:  dec(subtotal),
		Discount:  dec(discount),
		Tax:       dec(tax),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.Orders().Create(context.Background(), o))
	return o
}

// addScenarioOrder stores the placed order of the worked example: 25.00
// subtotal, 5.00 discount and 10% tax on 20.00, total 22.00.
func (f *fixture) addScenarioOrder(t *testing.T) *order.Order {
	return f.addOrder(t, "25.00", "5.00", "2.00", order.StatusPlaced)
}

func (f *fixture) addCard(t *testing.T, code, balance string) {
	t.Helper()
	require.NoError(t, f.store.GiftCards().Create(context.Background(), &giftcard.GiftCard{
		ID:             "gc-" + code,
		BusinessID:     "b1",
		Code:           code,
		Balance:        dec(balance),
		OriginalAmount: dec(balance),
		IssuedAt:       now.Add(-24 * time.Hour),
		Active:         true,
	}))
}

func (f *fixture) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	g, err := f.store.GiftCards().Get(context.Background(), "b1", code)
	require.NoError(t, err)
	return g.Balance
}

func (f *fixture) statement(t *testing.T, orderID string) *settlement.Statement {
	t.Helper()
	st, err := f.svc.Statement(context.Background(), "b1", orderID)
	require.NoError(t, err)
	return st
}

func (f *fixture) pay(t *testing.T, orderID, key, amount string, d payment.Details) (*settlement.PaymentResult, error) {
	t.Helper()
	return f.svc.RecordPayment(context.Background(), settlement.PaymentRequest{
		BusinessID:     "b1",
		OrderID:        orderID,
		Actor:          "emp-1",
		Amount:         dec(amount),
		Details:        d,
		IdempotencyKey: key,
		Now:            now,
	})
}

// refund issues a refund under a fresh request key.
func (f *fixture) refund(t *testing.T, orderID string, amount *decimal.Decimal) (*settlement.RefundResult, error) {
	t.Helper()
	f.refunds++
	return f.refundWithKey(t, orderID, "refund-"+strconv.Itoa(f.refunds), amount)
}

func (f *fixture) refundWithKey(t *testing.T, orderID, key string, amount *decimal.Decimal) (*settlement.RefundResult, error) {
	t.Helper()
	return f.svc.Refund(context.Background(), settlement.RefundRequest{
		BusinessID:     "b1",
		OrderID:        orderID,
		Actor:          "mgr-1",
		Amount:         amount,
		Reason:         "customer request",
		IdempotencyKey: key,
		Now:            now.Add(time.Hour),
	})
}

func amountPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func eventTypes(store *memory.Store) []event.Type {
	var out []event.Type
	for _, e := range store.AllEvents() {
		out = append(out, e.Type)
	}
	return out
}

func cash(v string) payment.Cash {
	return payment.Cash{Received: dec(v)}
}
