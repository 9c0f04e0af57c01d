package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

func TestProtected(t *testing.T) {
	keys := storage.NewMemoryKeyStore()
	realKey, hash, err := security.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	err = keys.SaveAPIKey(context.Background(), storage.APIKey{ID: security.KeyID(realKey), Hash: hash, Label: "ops"})
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New()
	app.Get("/ops", Protected(keys), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("operator").(string))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + realKey, http.StatusUnauthorized},
		{"unknown key", "Bearer " + security.KeyPrefix + "nope", http.StatusUnauthorized},
		{"known id wrong secret", "Bearer " + realKey[:len(realKey)-1] + "x", http.StatusUnauthorized},
		{"valid key", "Bearer " + realKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestSession(t *testing.T) {
	sessions, err := security.NewSessions([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := sessions.Issue("4111111111111111")
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New()
	app.Get("/balance/:instrumentId", Session(sessions), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalInstrument).(string))
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/balance/4111111111111111", "", http.StatusUnauthorized},
		{"garbage token", "/balance/4111111111111111", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"other instrument", "/balance/5555555555554444", "Bearer " + token, http.StatusForbidden},
		{"own instrument", "/balance/4111111111111111", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func idempotentApp(store ResponseStore, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Post("/charge", Idempotency(IdempotencyConfig{
		Store:  store,
		Scope:  func(c *fiber.Ctx) string { return c.Get("X-Caller") },
		Secret: []byte("test-secret"),
	}), handler)
	return app
}

func post(t *testing.T, app *fiber.App, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/charge", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	return resp, string(raw)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	var calls atomic.Int32
	app := idempotentApp(storage.NewMemoryIdempotencyStore(), func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(http.StatusCreated).JSON(fiber.Map{"call": n})
	})
	key := map[string]string{"Idempotency-Key": "abc"}

	_, first := post(t, app, `{"amount":1}`, key)
	resp, second := post(t, app, `{"amount":1}`, key)
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("X-Idempotency-Hit") != "true" {
		t.Errorf("expected replayed 201, got %d hit=%q", resp.StatusCode, resp.Header.Get("X-Idempotency-Hit"))
	}
	if first != second {
		t.Errorf("replayed body %s differs from %s", second, first)
	}

	post(t, app, `{"amount":1}`, nil)
	post(t, app, `{"amount":1}`, nil)
	if calls.Load() != 3 {
		t.Errorf("requests without a key must always run, got %d calls", calls.Load())
	}
}

func TestIdempotencyRejectsDifferentRequestUnderSameKey(t *testing.T) {
	var calls atomic.Int32
	app := idempotentApp(storage.NewMemoryIdempotencyStore(), func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.JSON(fiber.Map{"status": "approved"})
	})
	key := map[string]string{"Idempotency-Key": "abc", "X-Caller": "card-a"}

	post(t, app, `{"pin":"1234","amount":10}`, key)
	resp, body := post(t, app, `{"pin":"9999","amount":50}`, key)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a changed body, got %d %s", resp.StatusCode, body)
	}
	if strings.Contains(body, "approved") {
		t.Errorf("changed request must not receive the cached response: %s", body)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
}

func TestIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	var calls atomic.Int32
	app := idempotentApp(storage.NewMemoryIdempotencyStore(), func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.JSON(fiber.Map{"caller": c.Get("X-Caller")})
	})

	post(t, app, `{}`, map[string]string{"Idempotency-Key": "abc", "X-Caller": "card-a"})
	resp, body := post(t, app, `{}`, map[string]string{"Idempotency-Key": "abc", "X-Caller": "card-b"})
	if resp.Header.Get("X-Idempotency-Hit") != "" || !strings.Contains(body, "card-b") {
		t.Errorf("another caller's key must not replay: %s", body)
	}
	if calls.Load() != 2 {
		t.Errorf("expected both callers to run, got %d", calls.Load())
	}
}

func TestIdempotencyConcurrentDuplicateIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	app := idempotentApp(storage.NewMemoryIdempotencyStore(), func(c *fiber.Ctx) error {
		calls.Add(1)
		close(entered)
		<-release
		return c.JSON(fiber.Map{"status": "approved"})
	})
	key := map[string]string{"Idempotency-Key": "abc"}

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/charge", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		resp, err := app.Test(req, -1)
		if err != nil {
			done <- 0
			return
		}
		done <- resp.StatusCode
	}()
	<-entered

	resp, _ := post(t, app, `{}`, key)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while the first request runs, got %d", resp.StatusCode)
	}
	close(release)

	if status := <-done; status != http.StatusOK {
		t.Errorf("first request finished with %d", status)
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
}

func TestIdempotencyServerErrorReleasesKey(t *testing.T) {
	var calls atomic.Int32
	app := idempotentApp(storage.NewMemoryIdempotencyStore(), func(c *fiber.Ctx) error {
		if calls.Add(1) == 1 {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "error"})
		}
		return c.JSON(fiber.Map{"status": "approved"})
	})
	key := map[string]string{"Idempotency-Key": "abc"}

	post(t, app, `{}`, key)
	resp, _ := post(t, app, `{}`, key)
	if resp.StatusCode != http.StatusOK || calls.Load() != 2 {
		t.Errorf("retry after a server error must run again, got %d after %d calls", resp.StatusCode, calls.Load())
	}
}
