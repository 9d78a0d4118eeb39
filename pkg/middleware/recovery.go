package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// RecoveryConfig configurazione del recovery
type RecoveryConfig struct {
	// ExposeDetails include il valore del panic nella risposta
	ExposeDetails bool
}

// Recovery converte un panic dell'handler in una risposta 500, con stack nel log
func Recovery(cfg RecoveryConfig) fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			requestID := GetRequestID(c)
			log.Error().
				Str("request_id", requestID).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Panic recovered")

			body := fiber.Map{
				"error":      "internal_server_error",
				"message":    "an unexpected error occurred",
				"request_id": requestID,
			}
			if cfg.ExposeDetails {
				body["details"] = fmt.Sprint(r)
			}
			err = c.Status(fiber.StatusInternalServerError).JSON(body)
		}()

		return c.Next()
	}
}
