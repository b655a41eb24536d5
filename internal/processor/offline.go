package processor

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

// Test payment method IDs understood by Offline.
const (
	MethodDeclined   = "pm_card_declined"
	MethodProcessing = "pm_card_processing"
)

var _ payment.Processor = (*Offline)(nil)

// Offline is an in-process card processor for development and demos. Every
// card is approved except the test methods MethodDeclined and
// MethodProcessing. Identifiers derive from idempotency keys, so retries
// return the same intent, charge and refund.
type Offline struct {
	mu      sync.Mutex
	intents map[string]offlineIntent
	charges map[string]bool
}

type offlineIntent struct {
	method string
	status payment.IntentStatus
}

// NewOffline creates an Offline processor.
func NewOffline() *Offline {
	return &Offline{
		intents: make(map[string]offlineIntent),
		charges: make(map[string]bool),
	}
}

func offlineID(prefix, key string) string {
	if key == "" {
		return prefix + uuid.NewString()
	}
	return prefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (o *Offline) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := offlineID("pi_", req.IdempotencyKey)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.intents[id]; !ok {
		o.intents[id] = offlineIntent{method: req.PaymentMethodID, status: payment.IntentRequiresAction}
	}
	return &payment.Intent{ID: id, ClientSecret: id + "_secret", Status: o.intents[id].status}, nil
}

func (o *Offline) Confirm(ctx context.Context, intentID, _ string) (*payment.Authorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	in, ok := o.intents[intentID]
	if !ok {
		// Intents created elsewhere are accepted as plain cards.
		in = offlineIntent{}
	}

	auth := &payment.Authorization{IntentID: intentID}
	switch in.method {
	case MethodDeclined:
		in.status = payment.IntentFailed
		auth.DeclineReason = "card_declined"
	case MethodProcessing:
		in.status = payment.IntentProcessing
	default:
		in.status = payment.IntentSucceeded
		auth.TransactionID = offlineID("ch_", intentID)
		auth.AuthorizationCode = auth.TransactionID[3:9]
		o.charges[auth.TransactionID] = true
	}
	o.intents[intentID] = in
	auth.Status = in.status
	return auth, nil
}

func (o *Offline) Refund(ctx context.Context, req payment.ProcessorRefundRequest) (*payment.ProcessorRefund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.charges[req.TransactionID] {
		return nil, errors.Errorf("offline: unknown charge %q", req.TransactionID)
	}
	return &payment.ProcessorRefund{ID: offlineID("re_", req.IdempotencyKey), Status: payment.RefundSucceeded}, nil
}
