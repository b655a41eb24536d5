package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

var (
	// ErrProcessorUnavailable is returned when the processor fails or cannot
	// be reached. Nothing may be recorded on this error.
	ErrProcessorUnavailable = apperr.New(apperr.KindExternal, "processor_unavailable", "payment processor is unavailable")
	// ErrProcessorTimeout is returned when the processor does not answer in
	// time. The charge state is unknown.
	ErrProcessorTimeout = apperr.New(apperr.KindExternal, "processor_timeout", "payment processor did not respond in time")
)

// IntentStatus is the processor-side state of a card authorisation.
type IntentStatus string

const (
	IntentSucceeded      IntentStatus = "succeeded"
	IntentProcessing     IntentStatus = "processing"
	IntentRequiresAction IntentStatus = "requires_action"
	IntentFailed         IntentStatus = "failed"
)

// IntentRequest asks the processor to create a payment intent.
type IntentRequest struct {
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

// Intent is a created payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// Authorization is the processor's answer to confirming an intent.
type Authorization struct {
	IntentID          string
	Status            IntentStatus
	TransactionID     string
	AuthorizationCode string
	DeclineReason     string
}

// ProcessorRefundRequest asks the processor to return money on a charge.
type ProcessorRefundRequest struct {
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// ProcessorRefund is the processor's answer to a refund.
type ProcessorRefund struct {
	ID            string
	Status        RefundStatus
	FailureReason string
}

// Processor authorises and refunds card payments. Implementations must honour
// the idempotency key so that retried calls never charge twice.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, intentID, idempotencyKey string) (*Authorization, error)
	Refund(ctx context.Context, req ProcessorRefundRequest) (*ProcessorRefund, error)
}
