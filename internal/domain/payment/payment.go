// Package payment defines payment records, refunds, the per-order ledger and
// the contract of the external card processor.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
)

// Method identifies how a payment was tendered.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodGiftCard Method = "gift_card"
)

var (
	ErrNotFound            = apperr.New(apperr.KindNotFound, "payment_not_found", "payment not found")
	ErrInvalidAmount       = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be greater than 0 with at most 2 decimal places")
	ErrMissingMethod       = apperr.New(apperr.KindValidation, "missing_method", "payment method details are required")
	ErrInsufficientCash    = apperr.New(apperr.KindValidation, "insufficient_cash", "cash received is less than the amount")
	ErrMissingCardDetails  = apperr.New(apperr.KindValidation, "missing_card_details", "payment method or payment intent is required")
	ErrMissingGiftCardCode = apperr.New(apperr.KindValidation, "missing_gift_card_code", "gift card code is required")
	ErrMissingIdempotency  = apperr.New(apperr.KindValidation, "missing_idempotency_key", "idempotency key is required")
	ErrIdempotencyConflict = apperr.New(apperr.KindInvalidState, "idempotency_conflict", "idempotency key was already used for a different payment")
	ErrDeclined            = apperr.New(apperr.KindDeclined, "payment_declined", "payment was declined")
	ErrAttemptVoided       = apperr.New(apperr.KindInvalidState, "payment_attempt_voided", "the card charge made under this idempotency key was reversed; retry with a new key")
)

// Details carries the method-specific part of a payment. Exactly one of Cash,
// Card and GiftCard implements it.
type Details interface {
	Method() Method
	isDetails()
}

// Cash is a cash tender. Change is derived when the payment is recorded.
type Cash struct {
	Received decimal.Decimal
	Change   decimal.Decimal
}

// Card is a card tender authorised through the processor. Either
// PaymentMethodID or an existing PaymentIntentID is supplied by the caller;
// the remaining fields are filled from the processor's answer.
type Card struct {
	PaymentMethodID   string
	PaymentIntentID   string
	TransactionID     string
	AuthorizationCode string
}

// GiftCard is a gift card tender.
type GiftCard struct {
	Code          string
	TransactionID string
}

func (Cash) Method() Method     { return MethodCash }
func (Card) Method() Method     { return MethodCard }
func (GiftCard) Method() Method { return MethodGiftCard }

func (Cash) isDetails()     {}
func (Card) isDetails()     {}
func (GiftCard) isDetails() {}

// Validate checks the method-specific input rules for a tender of amount.
func Validate(amount decimal.Decimal, d Details) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	switch v := d.(type) {
	case Cash:
		if v.Received.LessThan(amount) {
			return ErrInsufficientCash
		}
	case Card:
		if v.PaymentMethodID == "" && v.PaymentIntentID == "" {
			return ErrMissingCardDetails
		}
	case GiftCard:
		if v.Code == "" {
			return ErrMissingGiftCardCode
		}
	default:
		return ErrMissingMethod
	}
	return nil
}

// Payment is an immutable record of money collected against an order.
type Payment struct {
	ID             string
	BusinessID     string
	OrderID        string
	CreatedBy      string
	Seq            int
	Amount         decimal.Decimal
	Details        Details
	IdempotencyKey string
	PaidAt         time.Time
}

// Method returns the payment's tender method.
func (p *Payment) Method() Method {
	return p.Details.Method()
}

// RefundStatus is the outcome of reversing part of a payment.
type RefundStatus string

const (
	RefundSucceeded RefundStatus = "success"
	RefundPending   RefundStatus = "pending"
	RefundFailed    RefundStatus = "failed"
)

// Refund is a compensating record against a payment. Payments themselves are
// never modified.
type Refund struct {
	ID               string
	BusinessID       string
	OrderID          string
	PaymentID        string
	Method           Method
	Amount           decimal.Decimal
	Status           RefundStatus
	ExternalRefundID string
	Reason           string
	FailureReason    string
	// RequestKey is the idempotency key of the refund request that created
	// the record. Every record of one request shares it.
	RequestKey string
	CreatedBy  string
	CreatedAt  time.Time
}

// Settled reports whether the refund reduces the collected amount. Pending
// card refunds count because the processor has accepted them.
func (r *Refund) Settled() bool {
	return r.Status == RefundSucceeded || r.Status == RefundPending
}

// VoidedAttempt marks an idempotency key whose card charge was reversed
// because the payment could not be stored. The key cannot be reused.
type VoidedAttempt struct {
	BusinessID     string
	IdempotencyKey string
	OrderID        string
	TransactionID  string
	VoidedAt       time.Time
}

// Repository persists payments and refunds.
type Repository interface {
	// ListByOrder returns the order's payments ordered by Seq.
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	// FindByIdempotencyKey returns ErrNotFound when the key is unused.
	FindByIdempotencyKey(ctx context.Context, businessID, key string) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	ListRefunds(ctx context.Context, orderID string) ([]Refund, error)
	CreateRefund(ctx context.Context, r *Refund) error
	// ListRefundsByRequestKey returns the refunds created by one refund
	// request, in any order of the business.
	ListRefundsByRequestKey(ctx context.Context, businessID, key string) ([]Refund, error)
	// RecordVoid is a no-op when the key is already marked.
	RecordVoid(ctx context.Context, v *VoidedAttempt) error
	IsVoided(ctx context.Context, businessID, key string) (bool, error)
}
