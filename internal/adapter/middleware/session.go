package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

// LocalInstrument is the Locals key holding the session's instrument id.
const LocalInstrument = "instrument_id"

// Session admits requests whose bearer token is a card session for the
// :instrumentId route parameter.
func Session(sessions *security.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearer(c)
		if !ok {
			return deny(c, http.StatusUnauthorized, "Missing card session")
		}
		subject, err := sessions.Parse(token)
		if err != nil {
			return deny(c, http.StatusUnauthorized, err.Error())
		}
		if subject != domain.NormalizeInstrument(c.Params("instrumentId")) {
			return deny(c, http.StatusForbidden, "Session does not cover this instrument")
		}

		c.Locals(LocalInstrument, subject)
		return c.Next()
	}
}
