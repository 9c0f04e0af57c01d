package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
	"github.com/ibrahimkeyboad/cardpay/internal/core/verifier"
)

const (
	card    = "4111111111111111"
	expiry  = "12/2099"
	holderA = "John Doe"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) Publish(event string, _ any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

type testEnv struct {
	app       *fiber.App
	events    *recordedEvents
	store     *storage.MemoryStore
	sessions  *security.Sessions
	operatorK string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pins, err := security.NewPINHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	_, err = payment.NewProvisioner(store, pins, domain.USD).Provision(ctx, payment.ProvisionRequest{
		InstrumentID: card, FirstName: "John", LastName: "Doe", PIN: "1234", CVV: "123", Expiry: expiry, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := security.NewSessions([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	keys := storage.NewMemoryKeyStore()
	realKey, hash, err := security.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := keys.SaveAPIKey(ctx, storage.APIKey{ID: security.KeyID(realKey), Hash: hash, Label: "ops"}); err != nil {
		t.Fatal(err)
	}

	engine := payment.NewEngine(store, payment.Policy{MaxAmount: 1000000})
	svc := payment.NewService(verifier.New(store, pins), engine, store, store, nil)
	events := &recordedEvents{}
	app := NewApp(Deps{
		Service:     svc,
		Sessions:    sessions,
		Keys:        keys,
		Idempotency: storage.NewMemoryIdempotencyStore(),
		Events:      events,
		Precision:   2,
		Retries:     2,

		IdempotencySecret: []byte("idempotency-test-secret"),
	})
	return &testEnv{app: app, events: events, store: store, sessions: sessions, operatorK: realKey}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("response is not JSON: %s", raw)
		}
	}
	return resp.StatusCode, out
}

func authorizeBody(pin, amount, direction, original string) string {
	body := `{"instrumentId":"4111 1111 1111 1111","pin":"` + pin + `","cvv":"123","expiry":"` + expiry +
		`","amount":` + amount + `,"direction":"` + direction + `"`
	if original != "" {
		body += `,"originalTransactionId":"` + original + `"`
	}
	return body + "}"
}

func TestAuthorizeFlow(t *testing.T) {
	env := newTestEnv(t)

	status, res := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "30.00", "debit", ""), nil)
	if status != http.StatusOK || res["status"] != "approved" || res["balance"] != "70.00" {
		t.Fatalf("debit: %d %v", status, res)
	}
	debitID := res["transactionId"].(string)

	status, res = env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", `"80"`, "debit", ""), nil)
	if status != http.StatusOK || res["status"] != "declined" || res["reason"] != domain.ReasonInsufficientFunds {
		t.Fatalf("overdraw: %d %v", status, res)
	}
	if res["balance"] != "70.00" || res["transactionId"] == nil {
		t.Errorf("declined response must carry balance and transaction id: %v", res)
	}

	status, res = env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "30", "credit", debitID), nil)
	if status != http.StatusOK || res["balance"] != "100.00" {
		t.Fatalf("credit: %d %v", status, res)
	}

	status, res = env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "0.01", "credit", debitID), nil)
	if status != http.StatusConflict || res["reason"] != domain.ReasonRefundExceedsOriginal {
		t.Fatalf("over-refund: %d %v", status, res)
	}

	env.events.mu.Lock()
	defer env.events.mu.Unlock()
	want := []string{"transaction.approved", "transaction.declined", "transaction.approved", "transaction.declined"}
	if strings.Join(env.events.events, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected events %v", env.events.events)
	}
}

func TestAuthorizeErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest, ""},
		{"too many decimals", authorizeBody("1234", "1.001", "debit", ""), http.StatusBadRequest, ""},
		{"zero amount", authorizeBody("1234", "0", "debit", ""), http.StatusBadRequest, ""},
		{"bad direction", authorizeBody("1234", "1", "sideways", ""), http.StatusBadRequest, ""},
		{"credit without original", authorizeBody("1234", "1", "credit", ""), http.StatusBadRequest, ""},
		{"wrong pin", authorizeBody("0000", "1", "debit", ""), http.StatusUnauthorized, domain.ReasonInvalidCredential},
		{"unknown refund target", authorizeBody("1234", "1", "credit", "0190a0a0-0000-7000-8000-000000000000"), http.StatusNotFound, domain.ReasonRefundTargetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := env.do(t, http.MethodPost, "/v1/authorize", tt.body, nil)
			if status != tt.status {
				t.Fatalf("expected %d, got %d %v", tt.status, status, res)
			}
			if res["status"] != "error" {
				t.Errorf("expected error envelope, got %v", res)
			}
			if tt.reason != "" && res["reason"] != tt.reason {
				t.Errorf("expected reason %q, got %v", tt.reason, res["reason"])
			}
		})
	}

	acc, _ := env.store.GetAccount(context.Background(), card)
	if acc.Balance != 10000 {
		t.Errorf("failed requests moved the balance to %d", acc.Balance)
	}
}

func TestAuthorizeIdempotency(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{"Idempotency-Key": "order-42"}

	_, first := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "10", "debit", ""), headers)
	_, second := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "10", "debit", ""), headers)
	if first["transactionId"] != second["transactionId"] {
		t.Errorf("replay returned a new transaction: %v vs %v", first, second)
	}
	acc, _ := env.store.GetAccount(context.Background(), card)
	if acc.Balance != 9000 {
		t.Errorf("expected a single debit, balance %d", acc.Balance)
	}
}

func TestAuthorizeIdempotencyKeyNeedsTheSameCredentials(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{"Idempotency-Key": "1"}

	status, first := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "10", "debit", ""), headers)
	if status != http.StatusOK || first["status"] != "approved" {
		t.Fatalf("first authorize: %d %v", status, first)
	}

	status, res := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("9999", "50", "debit", ""), headers)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("wrong pin under a used key: expected 422, got %d %v", status, res)
	}
	if res["status"] == "approved" || res["balance"] != nil || res["transactionId"] == first["transactionId"] {
		t.Errorf("wrong pin must not receive the cached approval: %v", res)
	}

	otherCard := `{"instrumentId":"5555555555554444","pin":"1234","cvv":"123","expiry":"` + expiry +
		`","amount":10,"direction":"debit"}`
	status, res = env.do(t, http.MethodPost, "/v1/authorize", otherCard, headers)
	if status != http.StatusNotFound || res["balance"] != nil {
		t.Errorf("another card under the same key must be processed on its own: %d %v", status, res)
	}

	acc, _ := env.store.GetAccount(context.Background(), card)
	if acc.Balance != 9000 {
		t.Errorf("expected only the first debit, balance %d", acc.Balance)
	}
}

func TestVerifyCardAndSessionRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/v1/balance/"+card, "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("balance without session: %d", status)
	}

	status, res := env.do(t, http.MethodPost, "/v1/cards/verify",
		`{"instrumentId":"`+card+`","pin":"1234","cvv":"123","expiry":"`+expiry+`"}`, nil)
	if status != http.StatusOK || res["status"] != "verified" {
		t.Fatalf("verify: %d %v", status, res)
	}
	if res["instrument"] != "**** **** **** 1111" || res["brand"] != string(domain.Visa) {
		t.Errorf("unexpected card details %v", res)
	}
	auth := map[string]string{"Authorization": "Bearer " + res["token"].(string)}

	status, res = env.do(t, http.MethodGet, "/v1/balance/"+card, "", auth)
	if status != http.StatusOK || res["holderName"] != holderA || res["balance"] != "100.00" {
		t.Fatalf("balance: %d %v", status, res)
	}

	env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "5", "debit", ""), nil)
	status, res = env.do(t, http.MethodGet, "/v1/accounts/"+card+"/transactions", "", auth)
	if status != http.StatusOK {
		t.Fatalf("history: %d %v", status, res)
	}
	txs := res["transactions"].([]any)
	if len(txs) != 1 || txs[0].(map[string]any)["amount"] != "5.00" {
		t.Errorf("unexpected history %v", txs)
	}

	status, _ = env.do(t, http.MethodGet, "/v1/balance/5555555555554444", "", auth)
	if status != http.StatusForbidden {
		t.Errorf("session used for another card: %d", status)
	}

	status, res = env.do(t, http.MethodPost, "/v1/cards/verify",
		`{"instrumentId":"`+card+`","pin":"9999","cvv":"123","expiry":"`+expiry+`"}`, nil)
	if status != http.StatusUnauthorized || res["token"] != nil {
		t.Errorf("bad pin must not open a session: %d %v", status, res)
	}
}

func TestOperatorRefund(t *testing.T) {
	env := newTestEnv(t)
	_, res := env.do(t, http.MethodPost, "/v1/authorize", authorizeBody("1234", "40", "debit", ""), nil)
	debitID := res["transactionId"].(string)

	body := `{"instrumentId":"` + card + `","originalTransactionId":"` + debitID + `","amount":"15.50","reason":"damaged"}`
	status, _ := env.do(t, http.MethodPost, "/v1/refund", body, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("refund without key: %d", status)
	}

	operator := map[string]string{"Authorization": "Bearer " + env.operatorK}
	status, res = env.do(t, http.MethodPost, "/v1/refund", body, operator)
	if status != http.StatusOK || res["balance"] != "75.50" {
		t.Fatalf("refund: %d %v", status, res)
	}
	refundID := res["transactionId"].(string)

	status, res = env.do(t, http.MethodGet, "/v1/transactions/"+refundID, "", operator)
	if status != http.StatusOK {
		t.Fatalf("get transaction: %d %v", status, res)
	}
	tx := res["transaction"].(map[string]any)
	if tx["type"] != "refund" || tx["note"] != "damaged" || tx["originalTransactionId"] != debitID {
		t.Errorf("unexpected transaction %v", tx)
	}

	status, _ = env.do(t, http.MethodGet, "/v1/transactions/not-a-uuid", "", operator)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/v1/transactions/0190a0a0-0000-7000-8000-000000000000", "", operator)
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, res := env.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || res["status"] != "ok" {
		t.Errorf("healthz: %d %v", status, res)
	}
}
