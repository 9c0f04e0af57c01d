package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// EventPublisher receives recorded transaction outcomes. Implementations must not block.
type EventPublisher interface {
	Publish(event string, data any) bool
}

// Money renders minor units in major units for responses.
type Money struct {
	Precision int32
}

func (m Money) Format(amount int64) string {
	return domain.FormatMinorUnits(amount, m.Precision)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrCredentialLocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInstrumentNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrRefundTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRefundExceedsOriginal),
		errors.Is(err, domain.ErrStoreConflict),
		errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope. Server-side failures never leak their cause.
func respondError(c *fiber.Ctx, err error, tx *domain.Transaction) error {
	status := statusFor(err)
	body := fiber.Map{"status": "error", "message": err.Error()}

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "path", c.Path())
		body["message"] = "Internal error, please retry later"
		if status == http.StatusServiceUnavailable {
			body["message"] = "Service temporarily unavailable"
		}
	} else if reason := domain.DeclineReason(err); reason != "" && status != http.StatusBadRequest {
		body["reason"] = reason
	}
	if tx != nil {
		body["transactionId"] = tx.ID.String()
	}
	return c.Status(status).JSON(body)
}

func badBody(c *fiber.Ctx, err error) error {
	slog.Warn("Invalid request body", "error", err, "path", c.Path())
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"status": "error", "message": "Invalid request body"})
}

// withConflictRetry re-runs op while the store reports a transient conflict.
func withConflictRetry[T any](ctx context.Context, retries int, op func() (T, error)) (T, error) {
	res, err := op()
	for attempt := 1; attempt <= retries && errors.Is(err, domain.ErrStoreConflict); attempt++ {
		slog.Warn("Store conflict, retrying", "attempt", attempt)
		select {
		case <-ctx.Done():
			return res, err
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
		res, err = op()
	}
	return res, err
}

type transactionView struct {
	ID                    string    `json:"transactionId"`
	Instrument            string    `json:"instrument"`
	Type                  string    `json:"type"`
	Amount                string    `json:"amount"`
	BalanceAfter          string    `json:"balanceAfter"`
	Status                string    `json:"status"`
	Reason                string    `json:"reason,omitempty"`
	OriginalTransactionID string    `json:"originalTransactionId,omitempty"`
	Note                  string    `json:"note,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

func (m Money) view(t *domain.Transaction) transactionView {
	v := transactionView{
		ID:           t.ID.String(),
		Instrument:   domain.MaskInstrument(t.InstrumentID),
		Type:         string(t.Type),
		Amount:       m.Format(t.Amount),
		BalanceAfter: m.Format(t.BalanceAfter),
		Status:       string(t.Status),
		Reason:       t.DeclineReason,
		Note:         t.Note,
		CreatedAt:    t.CreatedAt,
	}
	if t.OriginalTransactionID != nil {
		v.OriginalTransactionID = t.OriginalTransactionID.String()
	}
	return v
}

func (m Money) publish(events EventPublisher, t *domain.Transaction) {
	if events == nil || t == nil {
		return
	}
	events.Publish("transaction."+string(t.Status), m.view(t))
}
