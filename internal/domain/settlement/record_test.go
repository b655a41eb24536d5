package settlement_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/event"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

func TestRecordPayment_SequenceReachesPaid(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	res, err := f.pay(t, o.ID, "k1", "7.00", cash("10"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusPlaced, res.Order.Status)
	assert.True(t, dec("15.00").Equal(res.Ledger.RemainingBalance))
	assert.False(t, res.Ledger.IsFullyPaid)
	assert.Equal(t, 1, res.Payment.Seq)

	res, err = f.pay(t, o.ID, "k2", "15.00", cash("15"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
	assert.True(t, res.Ledger.IsFullyPaid)
	assert.True(t, dec("22.00").Equal(res.Ledger.TotalPaid))
	assert.Equal(t, 2, res.Payment.Seq)

	st := f.statement(t, o.ID)
	assert.Equal(t, order.StatusPaid, st.Order.Status)
	assert.Len(t, st.Payments, 2)
	assert.Equal(t, []event.Type{
		event.PaymentRecorded,
		event.PaymentRecorded,
		event.OrderPaid,
	}, eventTypes(f.store))
}

func TestRecordPayment_CashChange(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	res, err := f.pay(t, o.ID, "k1", "22.00", cash("50.00"))
	require.NoError(t, err)

	c, ok := res.Payment.Details.(payment.Cash)
	require.True(t, ok)
	assert.True(t, dec("28.00").Equal(c.Change))
	assert.True(t, dec("50.00").Equal(c.Received))
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	tests := []struct {
		name    string
		key     string
		amount  string
		details payment.Details
		wantErr error
	}{
		{name: "missing key", key: "", amount: "1", details: cash("1"), wantErr: payment.ErrMissingIdempotency},
		{name: "zero amount", key: "k", amount: "0", details: cash("1"), wantErr: payment.ErrInvalidAmount},
		{name: "cash short", key: "k", amount: "5", details: cash("4.99"), wantErr: payment.ErrInsufficientCash},
		{name: "no card reference", key: "k", amount: "5", details: payment.Card{}, wantErr: payment.ErrMissingCardDetails},
		{name: "overpayment", key: "k", amount: "22.01", details: cash("30"), wantErr: settlement.ErrOverpayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pay(t, o.ID, tt.key, tt.amount, tt.details)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, f.statement(t, o.ID).Payments)
	assert.Empty(t, f.store.AllEvents())
}

func TestRecordPayment_OrderState(t *testing.T) {
	tests := []struct {
		status  order.Status
		wantErr error
	}{
		{order.StatusDraft, settlement.ErrOrderNotPlaced},
		{order.StatusPaid, settlement.ErrOrderAlreadyPaid},
		{order.StatusCancelled, settlement.ErrOrderCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t)
			o := f.addOrder(t, "10", "0", "0", tt.status)

			_, err := f.pay(t, o.ID, "k1", "5", cash("5"))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pay(t, "missing", "k1", "5", cash("5"))
		require.ErrorIs(t, err, order.ErrNotFound)
	})
}

func TestRecordPayment_GiftCard(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)
	f.addCard(t, "GC1", "12.00")

	res, err := f.pay(t, o.ID, "k1", "8.50", payment.GiftCard{Code: "gc1"})
	require.NoError(t, err)
	assert.True(t, dec("3.50").Equal(f.balance(t, "GC1")))

	gc, ok := res.Payment.Details.(payment.GiftCard)
	require.True(t, ok)
	assert.Equal(t, "GC1", gc.Code)
	assert.NotEmpty(t, gc.TransactionID)
}

func TestRecordPayment_GiftCardInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)
	f.addCard(t, "GC1", "12.00")

	_, err := f.pay(t, o.ID, "k1", "12.01", payment.GiftCard{Code: "GC1"})
	require.ErrorIs(t, err, giftcard.ErrInsufficientBalance)

	assert.True(t, dec("12.00").Equal(f.balance(t, "GC1")))
	assert.Empty(t, f.statement(t, o.ID).Payments)
}

func TestRecordPayment_GiftCardUnusable(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	_, err := f.pay(t, o.ID, "k1", "1", payment.GiftCard{Code: "NOPE"})
	require.ErrorIs(t, err, giftcard.ErrNotFound)

	expired := now.Add(-1)
	require.NoError(t, f.store.GiftCards().Create(context.Background(), &giftcard.GiftCard{
		ID: "gc-old", BusinessID: "b1", Code: "OLD",
		Balance: dec("5"), OriginalAmount: dec("5"),
		ExpiresAt: &expired, Active: true,
	}))
	_, err = f.pay(t, o.ID, "k2", "1", payment.GiftCard{Code: "OLD"})
	require.ErrorIs(t, err, giftcard.ErrExpired)
}

func TestRecordPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)
	f.addCard(t, "GC1", "12.00")

	first, err := f.pay(t, o.ID, "attempt-1", "10.00", payment.GiftCard{Code: "GC1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.pay(t, o.ID, "attempt-1", "10.00", payment.GiftCard{Code: "GC1"})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	assert.True(t, dec("2.00").Equal(f.balance(t, "GC1")))
	assert.Len(t, f.statement(t, o.ID).Payments, 1)
	assert.Len(t, f.store.AllEvents(), 1)

	t.Run("conflict", func(t *testing.T) {
		_, err := f.pay(t, o.ID, "attempt-1", "9.00", payment.GiftCard{Code: "GC1"})
		require.ErrorIs(t, err, payment.ErrIdempotencyConflict)

		_, err = f.pay(t, o.ID, "attempt-1", "10.00", cash("10"))
		require.ErrorIs(t, err, payment.ErrIdempotencyConflict)
	})
}

func TestRecordPayment_IdempotentReplayAfterPaid(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	_, err := f.pay(t, o.ID, "full", "22.00", cash("22"))
	require.NoError(t, err)

	res, err := f.pay(t, o.ID, "full", "22.00", cash("22"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
}

func TestRecordPayment_ConcurrentHalves(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.RecordPayment(context.Background(), settlement.PaymentRequest{
				BusinessID:     "b1",
				OrderID:        o.ID,
				Actor:          "emp-1",
				Amount:         dec("11.00"),
				Details:        cash("11.00"),
				IdempotencyKey: []string{"half-a", "half-b"}[i],
				Now:            now,
			})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	st := f.statement(t, o.ID)
	assert.True(t, dec("22.00").Equal(st.Ledger.TotalPaid))
	assert.Equal(t, order.StatusPaid, st.Order.Status)
	require.Len(t, st.Payments, 2)
	assert.ElementsMatch(t, []int{1, 2}, []int{st.Payments[0].Seq, st.Payments[1].Seq})
}

func TestRecordPayment_ConcurrentGiftCardDoubleSpend(t *testing.T) {
	f := newFixture(t)
	a := f.addOrder(t, "10", "0", "0", order.StatusPlaced)
	b := &order.Order{ID: "order-b", BusinessID: "b1", SubTotal: dec("10"), Status: order.StatusPlaced, CreatedAt: now}
	require.NoError(t, f.store.Orders().Create(context.Background(), b))
	f.addCard(t, "GC1", "10.00")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.pay(t, id, "gc-"+id, "10.00", payment.GiftCard{Code: "GC1"})
		}()
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, giftcard.ErrInsufficientBalance)
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.True(t, f.balance(t, "GC1").IsZero())
}

func TestRecordPayment_Card(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	res, err := f.pay(t, o.ID, "card-1", "22.00", payment.Card{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, res.Order.Status)

	card, ok := res.Payment.Details.(payment.Card)
	require.True(t, ok)
	assert.Equal(t, "pi_card-1/intent", card.PaymentIntentID)
	assert.Equal(t, "ch_pi_card-1/intent", card.TransactionID)
	assert.Equal(t, "AUTH01", card.AuthorizationCode)

	require.Len(t, f.proc.intents, 1)
	assert.Equal(t, "EUR", f.proc.intents[0].Currency)
	assert.True(t, dec("22.00").Equal(f.proc.intents[0].Amount))
}

func TestRecordPayment_CardExistingIntent(t *testing.T) {
	f := newFixture(t)
	o := f.addScenarioOrder(t)

	res, err := f.pay(t, o.ID, "card-1", "5.00", payment.Card{PaymentIntentID: "pi_terminal"})
	require.NoError(t, err)
	assert.Empty(t, f.proc.intents)
	assert.Equal(t, "ch_pi_terminal", res.Payment.Details.(payment.Card).TransactionID)
}

func TestRecordPayment_CardFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *mockProcessor)
		wantErr error
	}{
		{
			name:    "declined",
			setup:   func(p *mockProcessor) { p.confirmStatus = payment.IntentFailed },
			wantErr: payment.ErrDeclined,
		},
		{
			name:    "requires action",
			setup:   func(p *mockProcessor) { p.confirmStatus = payment.IntentRequiresAction },
			wantErr: payment.ErrDeclined,
		},
		{
			name:    "timeout",
			setup:   func(p *mockProcessor) { p.blockConfirm = true },
			wantErr: payment.ErrProcessorTimeout,
		},
		{
			name:    "processor error",
			setup:   func(p *mockProcessor) { p.confirmErr = errors.New("tls handshake failed") },
			wantErr: payment.ErrProcessorUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.addScenarioOrder(t)
			tt.setup(f.proc)

			_, err := f.pay(t, o.ID, "card-1", "10.00", payment.Card{PaymentMethodID: "pm_card_visa"})
			require.ErrorIs(t, err, tt.wantErr)

			st := f.statement(t, o.ID)
			assert.Empty(t, st.Payments)
			assert.Equal(t, order.StatusPlaced, st.Order.Status)
			assert.Empty(t, f.proc.refundReqs)
		})
	}
}

func TestRecordPayment_CompensatesCardWhenCommitFails(t *testing.T) {
	store := newFixture(t).store
	proc := &mockProcessor{}
	svc, err := settlement.NewService(failingEvents{store}, proc, settlement.Config{})
	require.NoError(t, err)

	f := &fixture{svc: svc, store: store, proc: proc}
	o := f.addScenarioOrder(t)

	_, err = f.pay(t, o.ID, "card-1", "22.00", payment.Card{PaymentMethodID: "pm_card_visa"})
	require.Error(t, err)

	require.Len(t, proc.refundReqs, 1)
	assert.Equal(t, "ch_pi_card-1/intent", proc.refundReqs[0].TransactionID)
	assert.Equal(t, "card-1/void", proc.refundReqs[0].IdempotencyKey)
	assert.True(t, dec("22.00").Equal(proc.refundReqs[0].Amount))

	st, err := svc.Statement(context.Background(), "b1", o.ID)
	require.NoError(t, err)
	assert.Empty(t, st.Payments)
	assert.Equal(t, order.StatusPlaced, st.Order.Status)
}

func TestRecordPayment_RetryAfterCompensationIsRejected(t *testing.T) {
	store := newFixture(t).store
	proc := &mockProcessor{}
	failing, err := settlement.NewService(failingEvents{store}, proc, settlement.Config{})
	require.NoError(t, err)
	f := &fixture{svc: failing, store: store, proc: proc}
	o := f.addScenarioOrder(t)

	card := payment.Card{PaymentMethodID: "pm_card_visa"}
	_, err = f.pay(t, o.ID, "card-1", "22.00", card)
	require.Error(t, err)
	require.Len(t, proc.refundReqs, 1)

	healthy, err := settlement.NewService(store, proc, settlement.Config{})
	require.NoError(t, err)
	f.svc = healthy

	// The processor would replay its cached approval for the reversed charge.
	_, err = f.pay(t, o.ID, "card-1", "22.00", card)
	require.ErrorIs(t, err, payment.ErrAttemptVoided)
	assert.Equal(t, 1, proc.confirms)

	st := f.statement(t, o.ID)
	assert.Empty(t, st.Payments)
	assert.Equal(t, order.StatusPlaced, st.Order.Status)

	res, err := f.pay(t, o.ID, "card-2", "22.00", card)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
	assert.Equal(t, "ch_pi_card-2/intent", res.Payment.Details.(payment.Card).TransactionID)
}

func TestRecordPayment_FailedReversalKeepsKeyUsable(t *testing.T) {
	store := newFixture(t).store
	proc := &mockProcessor{refundErr: errors.New("processor down")}
	failing, err := settlement.NewService(failingEvents{store}, proc, settlement.Config{})
	require.NoError(t, err)
	f := &fixture{svc: failing, store: store, proc: proc}
	o := f.addScenarioOrder(t)

	_, err = f.pay(t, o.ID, "card-1", "22.00", payment.Card{PaymentMethodID: "pm_card_visa"})
	require.Error(t, err)

	// The charge still holds money, so recording it on retry is correct.
	healthy, err := settlement.NewService(store, proc, settlement.Config{})
	require.NoError(t, err)
	f.svc = healthy
	res, err := f.pay(t, o.ID, "card-1", "22.00", payment.Card{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
}
