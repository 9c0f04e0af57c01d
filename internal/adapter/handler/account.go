package handler

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

type AccountHandler struct {
	Service  *payment.Service
	Sessions *security.Sessions
	Money    Money
}

// VerifyCardRequest defines what the cardholder sends us
type VerifyCardRequest struct {
	InstrumentID string `json:"instrumentId"`
	PIN          string `json:"pin"`
	CVV          string `json:"cvv"`
	Expiry       string `json:"expiry"`
}

// VerifyCard checks the full credentials and opens a short card session.
func (h *AccountHandler) VerifyCard(c *fiber.Ctx) error {
	var req VerifyCardRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}

	acc, err := h.Service.VerifyCard(c.Context(), domain.Credentials{
		InstrumentID: req.InstrumentID,
		PIN:          req.PIN,
		CVV:          req.CVV,
		Expiry:       req.Expiry,
	})
	if err != nil {
		return respondError(c, err, nil)
	}

	token, expiresAt, err := h.Sessions.Issue(acc.InstrumentID)
	if err != nil {
		return respondError(c, err, nil)
	}

	slog.Info("🔑 Card session issued", "instrument", domain.MaskInstrument(acc.InstrumentID))

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":     "verified",
		"holderName": acc.HolderName(),
		"instrument": domain.MaskInstrument(acc.InstrumentID),
		"brand":      domain.Brand(acc.InstrumentID),
		"token":      token,
		"expiresAt":  expiresAt.UTC(),
	})
}

// Balance requires a card session for the instrument in the path.
func (h *AccountHandler) Balance(c *fiber.Ctx) error {
	instrumentID := c.Locals(middleware.LocalInstrument).(string)

	acc, err := h.Service.Account(c.Context(), instrumentID)
	if err != nil {
		return respondError(c, err, nil)
	}

	return c.JSON(fiber.Map{
		"status":     "success",
		"holderName": acc.HolderName(),
		"balance":    h.Money.Format(acc.Balance),
		"currency":   acc.Currency,
	})
}

func (h *AccountHandler) History(c *fiber.Ctx) error {
	instrumentID := c.Locals(middleware.LocalInstrument).(string)

	history, err := h.Service.History(c.Context(), instrumentID)
	if err != nil {
		return respondError(c, err, nil)
	}

	views := make([]transactionView, 0, len(history))
	for i := range history {
		views = append(views, h.Money.view(&history[i]))
	}
	return c.JSON(fiber.Map{
		"status":       "success",
		"transactions": views,
	})
}
