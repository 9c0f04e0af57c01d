package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
)

// TransactionHandler serves the operator routes.
type TransactionHandler struct {
	Service *payment.Service
	Events  EventPublisher
	Money   Money
	Retries int
}

type RefundRequest struct {
	InstrumentID          string          `json:"instrumentId"`
	OriginalTransactionID string          `json:"originalTransactionId"`
	Amount                decimal.Decimal `json:"amount"`
	Reason                string          `json:"reason"`
}

// Refund API
func (h *TransactionHandler) Refund(c *fiber.Ctx) error {
	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	amount, err := domain.ToMinorUnits(req.Amount, h.Money.Precision)
	if err != nil {
		return respondError(c, err, nil)
	}
	original, err := parseTransactionID("originalTransactionId", req.OriginalTransactionID)
	if err != nil {
		return respondError(c, err, nil)
	}
	if original == nil {
		return respondError(c, &domain.ValidationError{Field: "originalTransactionId", Message: "is required"}, nil)
	}

	refund := payment.RefundRequest{
		InstrumentID:          req.InstrumentID,
		OriginalTransactionID: *original,
		Amount:                amount,
		Note:                  req.Reason,
	}
	res, err := withConflictRetry(c.Context(), h.Retries, func() (*payment.Result, error) {
		return h.Service.Refund(c.Context(), refund)
	})

	var tx *domain.Transaction
	if res != nil {
		tx = res.Transaction
		h.Money.publish(h.Events, tx)
	}
	if err != nil {
		return respondError(c, err, tx)
	}

	slog.Info("↩️ Refund issued", "operator", c.Locals("operator"), "transaction_id", tx.ID)

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":        "approved",
		"balance":       h.Money.Format(res.Balance),
		"transactionId": tx.ID.String(),
	})
}

func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return respondError(c, &domain.ValidationError{Field: "id", Message: "must be a UUID"}, nil)
	}

	tx, err := h.Service.Transaction(c.Context(), id)
	if err != nil {
		return respondError(c, err, nil)
	}
	return c.JSON(fiber.Map{
		"status":      "success",
		"transaction": h.Money.view(tx),
	})
}
