package handler

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
)

type PaymentHandler struct {
	Service *payment.Service
	Events  EventPublisher
	Money   Money
	Retries int
}

type AuthorizeRequest struct {
	InstrumentID          string          `json:"instrumentId"`
	PIN                   string          `json:"pin"`
	CVV                   string          `json:"cvv"`
	Expiry                string          `json:"expiry"` // MM/YY or MM/YYYY
	Amount                decimal.Decimal `json:"amount"` // major units
	Direction             string          `json:"direction"`
	OriginalTransactionID string          `json:"originalTransactionId"`
	Note                  string          `json:"note"`
}

func parseTransactionID(field, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &domain.ValidationError{Field: field, Message: "must be a UUID"}
	}
	return &id, nil
}

func (h *PaymentHandler) Authorize(c *fiber.Ctx) error {
	var req AuthorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	amount, err := domain.ToMinorUnits(req.Amount, h.Money.Precision)
	if err != nil {
		return respondError(c, err, nil)
	}
	direction, err := domain.ParseDirection(req.Direction)
	if err != nil {
		return respondError(c, err, nil)
	}
	original, err := parseTransactionID("originalTransactionId", req.OriginalTransactionID)
	if err != nil {
		return respondError(c, err, nil)
	}

	authorize := payment.AuthorizeRequest{
		Credentials: domain.Credentials{
			InstrumentID: req.InstrumentID,
			PIN:          req.PIN,
			CVV:          req.CVV,
			Expiry:       req.Expiry,
		},
		Amount:                amount,
		Direction:             direction,
		OriginalTransactionID: original,
		Note:                  req.Note,
	}
	res, err := withConflictRetry(c.Context(), h.Retries, func() (*payment.Result, error) {
		return h.Service.Authorize(c.Context(), authorize)
	})

	var tx *domain.Transaction
	if res != nil {
		tx = res.Transaction
		h.Money.publish(h.Events, tx)
	}

	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":        "approved",
			"balance":       h.Money.Format(res.Balance),
			"transactionId": tx.ID.String(),
		})
	case tx != nil && tx.DeclineReason == domain.ReasonInsufficientFunds:
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":        "declined",
			"reason":        tx.DeclineReason,
			"balance":       h.Money.Format(res.Balance),
			"transactionId": tx.ID.String(),
		})
	}
	return respondError(c, err, tx)
}
