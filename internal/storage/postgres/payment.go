package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
)

var paymentColumns = []string{
	"id", "business_id", "order_id", "seq", "method", "amount",
	"cash_received", "cash_change",
	"payment_method_id", "payment_intent_id", "transaction_id", "authorization_code",
	"gift_card_code", "idempotency_key", "created_by", "paid_at",
}

var refundColumns = []string{
	"id", "business_id", "order_id", "payment_id", "method", "amount", "status",
	"external_refund_id", "reason", "failure_reason", "request_key", "created_by", "created_at",
}

type paymentRepo struct {
	q querier
}

func (r paymentRepo) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	rows, err := query(ctx, r.q, psql.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("seq"))
	if err != nil {
		return nil, errors.Wrapf(err, "list payments of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanPayment)
}

func (r paymentRepo) FindByIdempotencyKey(ctx context.Context, businessID, key string) (*payment.Payment, error) {
	rows, err := query(ctx, r.q, psql.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"business_id": businessID, "idempotency_key": key}))
	if err != nil {
		return nil, errors.Wrap(err, "find payment by idempotency key")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "find payment by idempotency key")
	}
	return &p, nil
}

func (r paymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	var (
		received, change                 decimal.NullDecimal
		methodID, intentID, txID, authCd *string
		giftCode                         *string
	)
	switch d := p.Details.(type) {
	case payment.Cash:
		received = decimal.NewNullDecimal(d.Received)
		change = decimal.NewNullDecimal(d.Change)
	case payment.Card:
		methodID, intentID = nullString(d.PaymentMethodID), nullString(d.PaymentIntentID)
		txID, authCd = nullString(d.TransactionID), nullString(d.AuthorizationCode)
	case payment.GiftCard:
		giftCode, txID = nullString(d.Code), nullString(d.TransactionID)
	default:
		return payment.ErrMissingMethod
	}

	_, err := exec(ctx, r.q, psql.Insert("payments").
		Columns(paymentColumns...).
		Values(
			p.ID, p.BusinessID, p.OrderID, p.Seq, string(p.Method()), p.Amount,
			received, change,
			methodID, intentID, txID, authCd,
			giftCode, p.IdempotencyKey, p.CreatedBy, p.PaidAt,
		))
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrIdempotencyConflict
		}
		return errors.Wrapf(err, "insert payment %q", p.ID)
	}
	return nil
}

func (r paymentRepo) ListRefunds(ctx context.Context, orderID string) ([]payment.Refund, error) {
	rows, err := query(ctx, r.q, psql.Select(refundColumns...).
		From("refunds").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, errors.Wrapf(err, "list refunds of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanRefund)
}

func (r paymentRepo) CreateRefund(ctx context.Context, rf *payment.Refund) error {
	_, err := exec(ctx, r.q, psql.Insert("refunds").
		Columns(refundColumns...).
		Values(
			rf.ID, rf.BusinessID, rf.OrderID, rf.PaymentID, string(rf.Method), rf.Amount, string(rf.Status),
			rf.ExternalRefundID, rf.Reason, rf.FailureReason, rf.RequestKey, rf.CreatedBy, rf.CreatedAt,
		))
	if err != nil {
		return errors.Wrapf(err, "insert refund %q", rf.ID)
	}
	return nil
}

func (r paymentRepo) ListRefundsByRequestKey(ctx context.Context, businessID, key string) ([]payment.Refund, error) {
	rows, err := query(ctx, r.q, psql.Select(refundColumns...).
		From("refunds").
		Where(sq.Eq{"business_id": businessID, "request_key": key}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, errors.Wrap(err, "list refunds by request key")
	}
	return pgx.CollectRows(rows, scanRefund)
}

func (r paymentRepo) RecordVoid(ctx context.Context, v *payment.VoidedAttempt) error {
	_, err := exec(ctx, r.q, psql.Insert("voided_payment_attempts").
		Columns("business_id", "idempotency_key", "order_id", "transaction_id", "voided_at").
		Values(v.BusinessID, v.IdempotencyKey, v.OrderID, v.TransactionID, v.VoidedAt).
		Suffix("ON CONFLICT (business_id, idempotency_key) DO NOTHING"))
	if err != nil {
		return errors.Wrapf(err, "insert voided attempt %q", v.IdempotencyKey)
	}
	return nil
}

func (r paymentRepo) IsVoided(ctx context.Context, businessID, key string) (bool, error) {
	stmt, args, err := psql.Select("1").
		From("voided_payment_attempts").
		Where(sq.Eq{"business_id": businessID, "idempotency_key": key}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build query")
	}
	var voided bool
	if err := r.q.QueryRow(ctx, stmt, args...).Scan(&voided); err != nil {
		return false, errors.Wrap(err, "check voided attempt")
	}
	return voided, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p                                payment.Payment
		method                           string
		received, change                 decimal.NullDecimal
		methodID, intentID, txID, authCd *string
		giftCode                         *string
	)
	err := row.Scan(
		&p.ID, &p.BusinessID, &p.OrderID, &p.Seq, &method, &p.Amount,
		&received, &change,
		&methodID, &intentID, &txID, &authCd,
		&giftCode, &p.IdempotencyKey, &p.CreatedBy, &p.PaidAt,
	)
	if err != nil {
		return p, err
	}

	switch payment.Method(method) {
	case payment.MethodCash:
		p.Details = payment.Cash{Received: received.Decimal, Change: change.Decimal}
	case payment.MethodCard:
		p.Details = payment.Card{
			PaymentMethodID:   deref(methodID),
			PaymentIntentID:   deref(intentID),
			TransactionID:     deref(txID),
			AuthorizationCode: deref(authCd),
		}
	case payment.MethodGiftCard:
		p.Details = payment.GiftCard{Code: deref(giftCode), TransactionID: deref(txID)}
	default:
		return p, errors.Errorf("unknown payment method %q", method)
	}
	return p, nil
}

func scanRefund(row pgx.CollectableRow) (payment.Refund, error) {
	var (
		rf             payment.Refund
		method, status string
	)
	err := row.Scan(
		&rf.ID, &rf.BusinessID, &rf.OrderID, &rf.PaymentID, &method, &rf.Amount, &status,
		&rf.ExternalRefundID, &rf.Reason, &rf.FailureReason, &rf.RequestKey, &rf.CreatedBy, &rf.CreatedAt,
	)
	rf.Method = payment.Method(method)
	rf.Status = payment.RefundStatus(status)
	return rf, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
