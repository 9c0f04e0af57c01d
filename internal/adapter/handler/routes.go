package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

// Deps is everything the HTTP layer needs. Events may be nil.
type Deps struct {
	Service     *payment.Service
	Sessions    *security.Sessions
	Keys        middleware.KeyLookup
	Idempotency middleware.ResponseStore
	Events      EventPublisher
	Precision   int32
	Retries     int

	// IdempotencySecret keys the stored request digests.
	IdempotencySecret []byte
}

// cardScope ties an authorize Idempotency-Key to the card in the request body.
func cardScope(c *fiber.Ctx) string {
	var body struct {
		InstrumentID string `json:"instrumentId"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return ""
	}
	return "card:" + domain.NormalizeInstrument(body.InstrumentID)
}

// operatorScope ties a refund Idempotency-Key to the operator key that sent it.
func operatorScope(c *fiber.Ctx) string {
	keyID, _ := c.Locals(middleware.LocalOperatorKey).(string)
	return "operator:" + keyID
}

// NewApp builds the Fiber app with every route wired.
func NewApp(d Deps) *fiber.App {
	money := Money{Precision: d.Precision}
	accountHandler := &AccountHandler{Service: d.Service, Sessions: d.Sessions, Money: money}
	paymentHandler := &PaymentHandler{Service: d.Service, Events: d.Events, Money: money, Retries: d.Retries}
	transactionHandler := &TransactionHandler{Service: d.Service, Events: d.Events, Money: money, Retries: d.Retries}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/v1")

	// Cardholder
	cardIdempotency := middleware.Idempotency(middleware.IdempotencyConfig{
		Store: d.Idempotency, Scope: cardScope, Secret: d.IdempotencySecret,
	})
	api.Post("/authorize", cardIdempotency, paymentHandler.Authorize)
	api.Post("/cards/verify", accountHandler.VerifyCard)

	// Card session
	session := middleware.Session(d.Sessions)
	api.Get("/balance/:instrumentId", session, accountHandler.Balance)
	api.Get("/accounts/:instrumentId/transactions", session, accountHandler.History)

	// Operator
	operator := middleware.Protected(d.Keys)
	operatorIdempotency := middleware.Idempotency(middleware.IdempotencyConfig{
		Store: d.Idempotency, Scope: operatorScope, Secret: d.IdempotencySecret,
	})
	api.Post("/refund", operator, operatorIdempotency, transactionHandler.Refund)
	api.Get("/transactions/:id", operator, transactionHandler.GetTransaction)

	return app
}
