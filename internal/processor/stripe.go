// Package processor provides card processor implementations of
// payment.Processor.
package processor

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients overrides the Stripe API clients.
type StripeClients struct {
	Intents stripeIntentAPI
	Refunds stripeRefundAPI
}

// StripeConfig configures Stripe.
type StripeConfig struct {
	APIKey string
	// AccountID routes calls to a connected account when set.
	AccountID string
	Backends  *stripe.Backends
	Clients   *StripeClients
}

var _ payment.Processor = (*Stripe)(nil)

// Stripe implements payment.Processor on Stripe payment intents.
type Stripe struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	account string
}

// NewStripe constructs a Stripe processor.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{Intents: sc.PaymentIntents, Refunds: sc.Refunds}
	}
	if clients.Intents == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	return &Stripe{
		intents: clients.Intents,
		refunds: clients.Refunds,
		account: strings.TrimSpace(cfg.AccountID),
	}, nil
}

func (s *Stripe) prepare(ctx context.Context, params *stripe.Params, key string) {
	params.Context = ctx
	if key != "" {
		params.SetIdempotencyKey(key)
	}
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
}

// CreateIntent creates an unconfirmed card payment intent.
func (s *Stripe) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(req.Amount)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	s.prepare(ctx, &params.Params, req.IdempotencyKey)

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: create payment intent")
	}
	zctx.From(ctx).Debug("Stripe payment intent created",
		zap.String("payment_intent", pi.ID),
		zap.String("status", string(pi.Status)),
	)
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: intentStatus(pi.Status)}, nil
}

// Confirm confirms the intent. Card declines are reported as a failed
// authorisation rather than an error.
func (s *Stripe) Confirm(ctx context.Context, intentID, idempotencyKey string) (*payment.Authorization, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.AddExpand("latest_charge")
	s.prepare(ctx, &params.Params, idempotencyKey)

	pi, err := s.intents.Confirm(intentID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeCard {
			reason := string(serr.DeclineCode)
			if reason == "" {
				reason = string(serr.Code)
			}
			zctx.From(ctx).Info("Stripe card declined",
				zap.String("payment_intent", intentID),
				zap.String("reason", reason),
			)
			return &payment.Authorization{IntentID: intentID, Status: payment.IntentFailed, DeclineReason: reason}, nil
		}
		return nil, errors.Wrap(err, "stripe: confirm payment intent")
	}

	auth := &payment.Authorization{
		IntentID:      pi.ID,
		Status:        intentStatus(pi.Status),
		TransactionID: pi.ID,
	}
	if ch := pi.LatestCharge; ch != nil {
		if ch.ID != "" {
			auth.TransactionID = ch.ID
		}
		auth.AuthorizationCode = ch.AuthorizationCode
		if ch.FailureMessage != "" {
			auth.DeclineReason = ch.FailureMessage
		}
	}
	if pi.LastPaymentError != nil && auth.DeclineReason == "" {
		auth.DeclineReason = string(pi.LastPaymentError.DeclineCode)
	}
	zctx.From(ctx).Debug("Stripe payment intent confirmed",
		zap.String("payment_intent", pi.ID),
		zap.String("status", string(pi.Status)),
	)
	return auth, nil
}

// Refund returns money on a charge. Transaction IDs that refer to a payment
// intent are refunded through the intent.
func (s *Stripe) Refund(ctx context.Context, req payment.ProcessorRefundRequest) (*payment.ProcessorRefund, error) {
	params := &stripe.RefundParams{
		Amount: stripe.Int64(minorUnits(req.Amount)),
	}
	if strings.HasPrefix(req.TransactionID, "pi_") {
		params.PaymentIntent = stripe.String(req.TransactionID)
	} else {
		params.Charge = stripe.String(req.TransactionID)
	}
	if reason := refundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	s.prepare(ctx, &params.Params, req.IdempotencyKey)

	r, err := s.refunds.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: create refund")
	}
	zctx.From(ctx).Debug("Stripe refund created",
		zap.String("refund", r.ID),
		zap.String("status", string(r.Status)),
	)
	out := &payment.ProcessorRefund{ID: r.ID, Status: refundStatus(r.Status)}
	if out.Status == payment.RefundFailed {
		out.FailureReason = string(r.FailureReason)
	}
	return out, nil
}

func intentStatus(s stripe.PaymentIntentStatus) payment.IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		return payment.IntentSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return payment.IntentProcessing
	case stripe.PaymentIntentStatusCanceled:
		return payment.IntentFailed
	default:
		return payment.IntentRequiresAction
	}
}

func refundStatus(s stripe.RefundStatus) payment.RefundStatus {
	switch s {
	case stripe.RefundStatusSucceeded:
		return payment.RefundSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return payment.RefundFailed
	default:
		return payment.RefundPending
	}
}

func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

// minorUnits converts an amount to the smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
