package handler

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/apperr"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
)

const maxBodySize = 1 << 20

var errMalformedBody = apperr.New(apperr.KindValidation, "malformed_body", "request body is not valid JSON")

// readBody decodes the JSON object in r's body, calling field for each key.
// An empty body is accepted when optional is set.
func readBody(w http.ResponseWriter, r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return errMalformedBody.WithMessage("read request body: " + err.Error())
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if optional {
			return nil
		}
		return errMalformedBody.WithMessage("request body is required")
	}
	if err := jx.DecodeBytes(raw).Obj(field); err != nil {
		var de *apperr.Error
		if errors.As(err, &de) {
			return err
		}
		return errMalformedBody.WithMessage("invalid JSON: " + err.Error())
	}
	return nil
}

// decodeString reads a string field; null reads as "".
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeAmount reads a money amount given either as a JSON string or number,
// keeping its exact decimal text.
func decodeAmount(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return d.Str()
	}
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

// parseAmount parses a validated decimal string. Empty returns zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Validation("invalid amount " + s)
	}
	return v, nil
}

// --- requests ---

type itemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes" validate:"max=500"`
}

type createOrderRequest struct {
	SpotID     string        `json:"spot_id" validate:"max=64"`
	Items      []itemRequest `json:"items" validate:"dive"`
	DiscountID string        `json:"discount_id" validate:"max=64"`
	TaxIDs     []string      `json:"tax_ids" validate:"dive,required,max=64"`
}

func (req *createOrderRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "spot_id":
		req.SpotID, err = decodeString(d)
	case "discount_id":
		req.DiscountID, err = decodeString(d)
	case "tax_ids":
		req.TaxIDs, err = decodeStrings(d)
	case "items":
		err = d.Arr(func(d *jx.Decoder) error {
			var item itemRequest
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "product_id":
					item.ProductID, err = d.Str()
				case "quantity":
					item.Quantity, err = d.Int()
				case "notes":
					item.Notes, err = decodeString(d)
				default:
					err = d.Skip()
				}
				return err
			}); err != nil {
				return err
			}
			req.Items = append(req.Items, item)
			return nil
		})
	default:
		err = d.Skip()
	}
	return err
}

// tenderRequest is one payment in a single or split payment request.
type tenderRequest struct {
	Amount          string `json:"amount" validate:"required,numeric"`
	Method          string `json:"method" validate:"required,oneof=cash card gift_card"`
	Received        string `json:"received" validate:"omitempty,numeric"`
	PaymentMethodID string `json:"payment_method_id" validate:"max=255"`
	PaymentIntentID string `json:"payment_intent_id" validate:"max=255"`
	GiftCardCode    string `json:"gift_card_code" validate:"max=64"`
}

func (req *tenderRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "amount":
		req.Amount, err = decodeAmount(d)
	case "method":
		req.Method, err = d.Str()
	case "received":
		req.Received, err = decodeAmount(d)
	case "payment_method_id":
		req.PaymentMethodID, err = decodeString(d)
	case "payment_intent_id":
		req.PaymentIntentID, err = decodeString(d)
	case "gift_card_code":
		req.GiftCardCode, err = decodeString(d)
	default:
		err = d.Skip()
	}
	return err
}

// tender converts a validated request to an amount and payment details. Cash
// without a received amount is taken as exact change.
func (req *tenderRequest) tender() (decimal.Decimal, payment.Details, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return decimal.Zero, nil, err
	}
	switch payment.Method(req.Method) {
	case payment.MethodCash:
		received := amount
		if req.Received != "" {
			if received, err = parseAmount(req.Received); err != nil {
				return decimal.Zero, nil, err
			}
		}
		return amount, payment.Cash{Received: received}, nil
	case payment.MethodCard:
		return amount, payment.Card{PaymentMethodID: req.PaymentMethodID, PaymentIntentID: req.PaymentIntentID}, nil
	default:
		return amount, payment.GiftCard{Code: req.GiftCardCode}, nil
	}
}

type splitRequest struct {
	Payments []tenderRequest `json:"payments" validate:"dive"`
}

func (req *splitRequest) decode(d *jx.Decoder, key string) error {
	if key != "payments" {
		return d.Skip()
	}
	return d.Arr(func(d *jx.Decoder) error {
		var t tenderRequest
		if err := d.Obj(t.decode); err != nil {
			return err
		}
		req.Payments = append(req.Payments, t)
		return nil
	})
}

type refundRequest struct {
	Amount string `json:"amount" validate:"omitempty,numeric"`
	Reason string `json:"reason" validate:"max=500"`
}

func (req *refundRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "amount":
		req.Amount, err = decodeAmount(d)
	case "reason":
		req.Reason, err = decodeString(d)
	default:
		err = d.Skip()
	}
	return err
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (req *cancelRequest) decode(d *jx.Decoder, key string) error {
	if key != "reason" {
		return d.Skip()
	}
	var err error
	req.Reason, err = decodeString(d)
	return err
}

type issueGiftCardRequest struct {
	Code      string `json:"code" validate:"max=64"`
	Amount    string `json:"amount" validate:"required,numeric"`
	ExpiresAt string `json:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (req *issueGiftCardRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "code":
		req.Code, err = decodeString(d)
	case "amount":
		req.Amount, err = decodeAmount(d)
	case "expires_at":
		req.ExpiresAt, err = decodeString(d)
	default:
		err = d.Skip()
	}
	return err
}

// validationError turns validator failures into a validation error naming
// the first offending field by its JSON name.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, "validate request")
	}
	fe := verrs[0]
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	msg := field + " failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return apperr.Validation(msg)
}

// --- responses ---

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("spot_id", func(e *jx.Encoder) { e.Str(o.SpotID) })
		e.Field("created_by", func(e *jx.Encoder) { e.Str(o.CreatedBy) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("line_total", func(e *jx.Encoder) { money(e, it.LineTotal()) })
						if it.Notes != "" {
							e.Field("notes", func(e *jx.Encoder) { e.Str(it.Notes) })
						}
					})
				}
			})
		})
		e.Field("sub_total", func(e *jx.Encoder) { money(e, o.SubTotal) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("tax", func(e *jx.Encoder) { money(e, o.Tax) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total()) })
		if o.DiscountID != "" {
			e.Field("discount_id", func(e *jx.Encoder) { e.Str(o.DiscountID) })
		}
		e.Field("tax_ids", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range o.TaxIDs {
					e.Str(id)
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	})
}

func encodeLedger(e *jx.Encoder, l payment.Ledger) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("total", func(e *jx.Encoder) { money(e, l.Total) })
		e.Field("total_paid", func(e *jx.Encoder) { money(e, l.TotalPaid) })
		e.Field("remaining_balance", func(e *jx.Encoder) { money(e, l.RemainingBalance) })
		e.Field("is_fully_paid", func(e *jx.Encoder) { e.Bool(l.IsFullyPaid) })
	})
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(p.OrderID) })
		e.Field("seq", func(e *jx.Encoder) { e.Int(p.Seq) })
		e.Field("method", func(e *jx.Encoder) { e.Str(string(p.Method())) })
		e.Field("amount", func(e *jx.Encoder) { money(e, p.Amount) })
		switch d := p.Details.(type) {
		case payment.Cash:
			e.Field("received", func(e *jx.Encoder) { money(e, d.Received) })
			e.Field("change", func(e *jx.Encoder) { money(e, d.Change) })
		case payment.Card:
			optStr(e, "payment_method_id", d.PaymentMethodID)
			optStr(e, "payment_intent_id", d.PaymentIntentID)
			optStr(e, "transaction_id", d.TransactionID)
			optStr(e, "authorization_code", d.AuthorizationCode)
		case payment.GiftCard:
			e.Field("gift_card_code", func(e *jx.Encoder) { e.Str(d.Code) })
			optStr(e, "transaction_id", d.TransactionID)
		}
		e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(p.IdempotencyKey) })
		e.Field("created_by", func(e *jx.Encoder) { e.Str(p.CreatedBy) })
		e.Field("paid_at", func(e *jx.Encoder) { timestamp(e, p.PaidAt) })
	})
}

func encodeRefund(e *jx.Encoder, r *payment.Refund) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("payment_id", func(e *jx.Encoder) { e.Str(r.PaymentID) })
		e.Field("method", func(e *jx.Encoder) { e.Str(string(r.Method)) })
		e.Field("amount", func(e *jx.Encoder) { money(e, r.Amount) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		optStr(e, "external_refund_id", r.ExternalRefundID)
		optStr(e, "reason", r.Reason)
		optStr(e, "failure_reason", r.FailureReason)
		e.Field("created_by", func(e *jx.Encoder) { e.Str(r.CreatedBy) })
		e.Field("created_at", func(e *jx.Encoder) { timestamp(e, r.CreatedAt) })
	})
}

func encodePayments(e *jx.Encoder, payments []payment.Payment) {
	e.Arr(func(e *jx.Encoder) {
		for i := range payments {
			encodePayment(e, &payments[i])
		}
	})
}

func encodeRefunds(e *jx.Encoder, refunds []payment.Refund) {
	e.Arr(func(e *jx.Encoder) {
		for i := range refunds {
			encodeRefund(e, &refunds[i])
		}
	})
}

func encodeStatement(e *jx.Encoder, st *settlement.Statement) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, st.Order) })
		e.Field("ledger", func(e *jx.Encoder) { encodeLedger(e, st.Ledger) })
		e.Field("payments", func(e *jx.Encoder) { encodePayments(e, st.Payments) })
		e.Field("refunds", func(e *jx.Encoder) { encodeRefunds(e, st.Refunds) })
	})
}

func encodePaymentResult(e *jx.Encoder, res *settlement.PaymentResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("payment", func(e *jx.Encoder) { encodePayment(e, res.Payment) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
		e.Field("ledger", func(e *jx.Encoder) { encodeLedger(e, res.Ledger) })
		e.Field("replayed", func(e *jx.Encoder) { e.Bool(res.Replayed) })
	})
}

func encodeSplitResult(e *jx.Encoder, res *settlement.SplitResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("payments", func(e *jx.Encoder) { encodePayments(e, res.Payments) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
		e.Field("ledger", func(e *jx.Encoder) { encodeLedger(e, res.Ledger) })
		e.Field("replayed", func(e *jx.Encoder) { e.Bool(res.Replayed) })
	})
}

func encodeRefundResult(e *jx.Encoder, res *settlement.RefundResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("refunds", func(e *jx.Encoder) { encodeRefunds(e, res.Refunds) })
		e.Field("requested", func(e *jx.Encoder) { money(e, res.Requested) })
		e.Field("refunded", func(e *jx.Encoder) { money(e, res.Refunded) })
		e.Field("failed", func(e *jx.Encoder) { money(e, res.Failed) })
		e.Field("partially_refunded", func(e *jx.Encoder) { e.Bool(res.PartiallyRefunded) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
		e.Field("ledger", func(e *jx.Encoder) { encodeLedger(e, res.Ledger) })
		e.Field("replayed", func(e *jx.Encoder) { e.Bool(res.Replayed) })
	})
}

func encodeGiftCard(e *jx.Encoder, g *giftcard.GiftCard) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(g.Code) })
		e.Field("balance", func(e *jx.Encoder) { money(e, g.Balance) })
		e.Field("original_amount", func(e *jx.Encoder) { money(e, g.OriginalAmount) })
		e.Field("issued_at", func(e *jx.Encoder) { timestamp(e, g.IssuedAt) })
		e.Field("expires_at", func(e *jx.Encoder) {
			if g.ExpiresAt == nil {
				e.Null()
				return
			}
			timestamp(e, *g.ExpiresAt)
		})
		e.Field("active", func(e *jx.Encoder) { e.Bool(g.Active) })
	})
}

func encodeProducts(e *jx.Encoder, products []product.Product) {
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
				e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
				e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
				e.Field("available", func(e *jx.Encoder) { e.Bool(p.Available) })
			})
		}
	})
}

// writeJSON writes the document produced by encode with status.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
