package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/auth"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/processor"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/memory"
)

var (
	pepper = []byte("test-pepper")
	now    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

const (
	tillKey     = "till-key"
	readOnlyKey = "read-only-key"
	otherKey    = "other-business-key"
)

type server struct {
	router http.Handler
	store  *memory.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.New()
	store.AddProduct(product.Product{ID: "burger", BusinessID: "b1", Name: "Burger", Price: decimal.RequireFromString("12.50"), Category: "Food", Available: true})
	store.AddProduct(product.Product{ID: "water", BusinessID: "b1", Name: "Water", Price: decimal.Zero, Category: "Drinks", Available: true})
	store.AddDiscount(pricing.Discount{ID: "five-off", BusinessID: "b1", Name: "5 off", Type: pricing.DiscountFixedAmount, Value: decimal.NewFromInt(5), Active: true})
	store.AddTax(pricing.Tax{ID: "vat", BusinessID: "b1", Name: "VAT", Rate: decimal.NewFromInt(10), Active: true})
	store.AddAPIKey(auth.APIKeyInfo{ID: "k1", BusinessID: "b1", KeyHash: HashKey(pepper, tillKey), Name: "till", Scopes: []string{"*"}})
	store.AddAPIKey(auth.APIKeyInfo{ID: "k2", BusinessID: "b1", KeyHash: HashKey(pepper, readOnlyKey), Name: "report", Scopes: []string{ScopeOrdersRead}})
	store.AddAPIKey(auth.APIKeyInfo{ID: "k3", BusinessID: "b2", KeyHash: HashKey(pepper, otherKey), Name: "other", Scopes: []string{"*"}})

	settle, err := settlement.NewService(store, processor.NewOffline(), settlement.Config{ProcessorTimeout: time.Second})
	require.NoError(t, err)
	h := NewHandler(
		HandlerConfig{Now: func() time.Time { return now }},
		store,
		order.NewService(store, pricing.NewResolver(store), store.Orders()),
		settle,
		giftcard.NewManager(store.GiftCards()),
	)
	r := chi.NewRouter()
	h.Mount(r, NewAuthenticator(store, pepper))
	return &server{router: r, store: store}
}

type call struct {
	method string
	path   string
	body   string
	key    string
	actor  string
	idem   string
}

func (s *server) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	key := c.key
	if key == "" {
		key = tillKey
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if c.actor != "-" {
		actor := c.actor
		if actor == "" {
			actor = "emp-1"
		}
		req.Header.Set(HeaderActor, actor)
	}
	if c.idem != "" {
		req.Header.Set(HeaderIdempotencyKey, c.idem)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w.Code, body
}

const scenarioOrder = `{
	"spot_id": "table-4",
	"items": [{"product_id": "burger", "quantity": 2, "notes": "no onions"}],
	"discount_id": "five-off",
	"tax_ids": ["vat"]
}`

// placedOrder creates and places the 25.00 - 5.00 + 2.00 order.
func (s *server) placedOrder(t *testing.T) string {
	t.Helper()
	code, body := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: scenarioOrder})
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)
	code, body = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/place"})
	require.Equal(t, http.StatusOK, code, body)
	return id
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	code, body := s.do(t, call{method: http.MethodGet, path: "/api/products", key: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["code"])

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("api_key", tillKey)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	code, body = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: scenarioOrder, key: readOnlyKey})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["code"])
}

func TestOrderSettlementFlow(t *testing.T) {
	s := newServer(t)

	code, card := s.do(t, call{method: http.MethodPost, path: "/api/gift-cards", body: `{"code": "gc1", "amount": "12.00"}`})
	require.Equal(t, http.StatusCreated, code, card)
	assert.Equal(t, "GC1", card["code"])

	code, created := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: scenarioOrder})
	require.Equal(t, http.StatusCreated, code, created)
	assert.Equal(t, "draft", created["status"])
	assert.Equal(t, "25.00", created["sub_total"])
	assert.Equal(t, "5.00", created["discount"])
	assert.Equal(t, "2.00", created["tax"])
	assert.Equal(t, "22.00", created["total"])
	assert.Equal(t, "emp-1", created["created_by"])
	items := created["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "12.50", items[0].(map[string]any)["unit_price"])
	assert.Equal(t, "25.00", items[0].(map[string]any)["line_total"])
	id := created["id"].(string)

	code, placed := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/place"})
	require.Equal(t, http.StatusOK, code, placed)
	assert.Equal(t, "placed", placed["status"])

	split := `{"payments": [
		{"amount": "10.00", "method": "cash", "received": 20},
		{"amount": 12, "method": "gift_card", "gift_card_code": "GC1"}
	]}`
	code, paid := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/payments/split", body: split, idem: "split-1"})
	require.Equal(t, http.StatusCreated, code, paid)
	assert.Equal(t, "paid", paid["order"].(map[string]any)["status"])
	ledger := paid["ledger"].(map[string]any)
	assert.Equal(t, "22.00", ledger["total_paid"])
	assert.Equal(t, "0.00", ledger["remaining_balance"])
	assert.Equal(t, true, ledger["is_fully_paid"])
	payments := paid["payments"].([]any)
	require.Len(t, payments, 2)
	cash := payments[0].(map[string]any)
	assert.Equal(t, "cash", cash["method"])
	assert.Equal(t, "10.00", cash["change"])
	assert.Equal(t, "split-1/0", cash["idempotency_key"])
	assert.Equal(t, false, paid["replayed"])

	code, replay := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/payments/split", body: split, idem: "split-1"})
	require.Equal(t, http.StatusOK, code, replay)
	assert.Equal(t, true, replay["replayed"])

	refund := call{method: http.MethodPost, path: "/api/orders/" + id + "/refunds", body: `{"amount": "10.00", "reason": "cold food"}`, actor: "mgr-1", idem: "refund-1"}
	code, refunded := s.do(t, refund)
	require.Equal(t, http.StatusOK, code, refunded)
	assert.Equal(t, false, refunded["replayed"])
	assert.Equal(t, true, refunded["partially_refunded"])
	assert.Equal(t, "10.00", refunded["refunded"])
	refunds := refunded["refunds"].([]any)
	require.Len(t, refunds, 1)
	assert.Equal(t, "gift_card", refunds[0].(map[string]any)["method"])
	assert.Equal(t, "success", refunds[0].(map[string]any)["status"])

	code, again := s.do(t, refund)
	require.Equal(t, http.StatusOK, code, again)
	assert.Equal(t, true, again["replayed"])
	assert.Equal(t, "10.00", again["refunded"])

	code, st := s.do(t, call{method: http.MethodGet, path: "/api/orders/" + id, key: readOnlyKey})
	require.Equal(t, http.StatusOK, code, st)
	assert.Equal(t, "paid", st["order"].(map[string]any)["status"])
	ledger = st["ledger"].(map[string]any)
	assert.Equal(t, "12.00", ledger["total_paid"])
	assert.Equal(t, "10.00", ledger["remaining_balance"])
	assert.Len(t, st["payments"], 2)
	assert.Len(t, st["refunds"], 1)

	code, card = s.do(t, call{method: http.MethodGet, path: "/api/gift-cards/gc1"})
	require.Equal(t, http.StatusOK, code, card)
	assert.Equal(t, "10.00", card["balance"])
	assert.Equal(t, "12.00", card["original_amount"])
}

func TestSinglePaymentAndCancel(t *testing.T) {
	s := newServer(t)
	id := s.placedOrder(t)
	pay := `{"amount": "7.00", "method": "card", "payment_method_id": "pm_card_visa"}`

	code, res := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/payments", body: pay, idem: "pay-1"})
	require.Equal(t, http.StatusCreated, code, res)
	p := res["payment"].(map[string]any)
	assert.Equal(t, "card", p["method"])
	assert.NotEmpty(t, p["transaction_id"])
	assert.Equal(t, "15.00", res["ledger"].(map[string]any)["remaining_balance"])

	code, res = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/payments", body: pay, idem: "pay-1"})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, p["id"], res["payment"].(map[string]any)["id"])

	code, res = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/cancel"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "order_has_payments", res["code"])

	code, res = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/refunds", idem: "refund-all"})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "cancelled", res["order"].(map[string]any)["status"])

	other := s.placedOrder(t)
	code, res = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + other + "/cancel", body: `{"reason": "walked out"}`})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "cancelled", res["status"])
}

func TestErrors(t *testing.T) {
	s := newServer(t)
	placed := s.placedOrder(t)
	code, draft := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: scenarioOrder})
	require.Equal(t, http.StatusCreated, code)
	draftID := draft["id"].(string)
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/gift-cards", body: `{"code": "LOW", "amount": "5.00"}`})
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{
			name:   "empty items",
			call:   call{method: http.MethodPost, path: "/api/orders", body: `{"items": []}`},
			status: http.StatusBadRequest,
			code:   "empty_items",
		},
		{
			name:   "zero quantity",
			call:   call{method: http.MethodPost, path: "/api/orders", body: `{"items": [{"product_id": "burger", "quantity": 0}]}`},
			status: http.StatusBadRequest,
			code:   "invalid_quantity",
		},
		{
			name:   "missing product id",
			call:   call{method: http.MethodPost, path: "/api/orders", body: `{"items": [{"quantity": 1}]}`},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "unknown product",
			call:   call{method: http.MethodPost, path: "/api/orders", body: `{"items": [{"product_id": "pizza", "quantity": 1}]}`},
			status: http.StatusNotFound,
			code:   "product_not_found",
		},
		{
			name:   "malformed body",
			call:   call{method: http.MethodPost, path: "/api/orders", body: `{"items": [`},
			status: http.StatusBadRequest,
			code:   "malformed_body",
		},
		{
			name:   "missing actor",
			call:   call{method: http.MethodPost, path: "/api/orders", body: scenarioOrder, actor: "-"},
			status: http.StatusBadRequest,
			code:   "missing_actor",
		},
		{
			name:   "unknown order",
			call:   call{method: http.MethodGet, path: "/api/orders/nope"},
			status: http.StatusNotFound,
			code:   "order_not_found",
		},
		{
			name:   "order of another business",
			call:   call{method: http.MethodGet, path: "/api/orders/" + placed, key: otherKey},
			status: http.StatusNotFound,
			code:   "order_not_found",
		},
		{
			name:   "missing idempotency key",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "1.00", "method": "cash"}`},
			status: http.StatusBadRequest,
			code:   "missing_idempotency_key",
		},
		{
			name:   "unknown method",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "1.00", "method": "cheque"}`, idem: "e1"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "non numeric amount",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "ten", "method": "cash"}`, idem: "e2"},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "draft order",
			call:   call{method: http.MethodPost, path: "/api/orders/" + draftID + "/payments", body: `{"amount": "1.00", "method": "cash"}`, idem: "e3"},
			status: http.StatusConflict,
			code:   "order_not_placed",
		},
		{
			name:   "overpayment",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "30.00", "method": "cash"}`, idem: "e4"},
			status: http.StatusConflict,
			code:   "overpayment",
		},
		{
			name:   "insufficient gift card balance",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "6.00", "method": "gift_card", "gift_card_code": "low"}`, idem: "e5"},
			status: http.StatusPaymentRequired,
			code:   "insufficient_balance",
		},
		{
			name:   "declined card",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments", body: `{"amount": "6.00", "method": "card", "payment_method_id": "` + processor.MethodDeclined + `"}`, idem: "e6"},
			status: http.StatusPaymentRequired,
			code:   "payment_declined",
		},
		{
			name:   "split element error names the element",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/payments/split", body: `{"payments": [{"amount": "1.00", "method": "cash"}, {"amount": "2.00", "method": "gift_card"}]}`, idem: "e7"},
			status: http.StatusBadRequest,
			code:   "missing_gift_card_code",
		},
		{
			name:   "refund without payments",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/refunds", body: `{}`, idem: "e8"},
			status: http.StatusConflict,
			code:   "no_payments_to_refund",
		},
		{
			name:   "refund without idempotency key",
			call:   call{method: http.MethodPost, path: "/api/orders/" + placed + "/refunds", body: `{}`},
			status: http.StatusBadRequest,
			code:   "missing_idempotency_key",
		},
		{
			name:   "unknown gift card",
			call:   call{method: http.MethodGet, path: "/api/gift-cards/NOPE"},
			status: http.StatusNotFound,
			code:   "gift_card_not_found",
		},
		{
			name:   "duplicate gift card",
			call:   call{method: http.MethodPost, path: "/api/gift-cards", body: `{"code": "low", "amount": "5.00"}`},
			status: http.StatusConflict,
			code:   "duplicate_gift_card_code",
		},
		{
			name:   "bad expiry",
			call:   call{method: http.MethodPost, path: "/api/gift-cards", body: `{"amount": "5.00", "expires_at": "tomorrow"}`},
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, tt.call)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.code, body["code"], body)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestSplitErrorMessage(t *testing.T) {
	s := newServer(t)
	id := s.placedOrder(t)
	body := `{"payments": [{"amount": "1.00", "method": "cash"}, {"amount": "2.00", "method": "gift_card"}]}`

	code, res := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + id + "/payments/split", body: body, idem: "s1"})
	require.Equal(t, http.StatusBadRequest, code)
	assert.True(t, strings.HasPrefix(res["message"].(string), "payment 2: "), res["message"])
}

func TestListProducts(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Authorization", "Bearer "+tillKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "burger", products[0]["id"])
	assert.Equal(t, "12.50", products[0]["price"])
}

func TestZeroTotalOrderIsPaidOnPlace(t *testing.T) {
	s := newServer(t)
	code, created := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{"items": [{"product_id": "water", "quantity": 1}], "tax_ids": ["vat"]}`})
	require.Equal(t, http.StatusCreated, code, created)

	code, placed := s.do(t, call{method: http.MethodPost, path: "/api/orders/" + created["id"].(string) + "/place"})
	require.Equal(t, http.StatusOK, code, placed)
	assert.Equal(t, "paid", placed["status"])
	assert.Equal(t, "0.00", placed["total"])
}
