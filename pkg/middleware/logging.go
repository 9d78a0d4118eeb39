package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader header di correlazione delle richieste
const RequestIDHeader = "X-Request-ID"

// RequestIDKey chiave per il request ID nei Locals
const RequestIDKey ContextKey = "request_id"

// LoggingConfig configurazione dell'access log
type LoggingConfig struct {
	// Logger di default: log.Logger
	Logger *zerolog.Logger
	// SkipPaths path esclusi, tipicamente le probe
	SkipPaths []string
	// StatusOf mappa l'errore restituito dalla catena nello status HTTP finale
	StatusOf func(err error) int
}

// RequestID propaga l'header X-Request-ID o ne genera uno nuovo
func RequestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(string(RequestIDKey), id)
		c.Set(RequestIDHeader, id)
		return c.Next()
	}
}

// Logging scrive una riga per richiesta, con livello derivato dallo status
func Logging(cfg LoggingConfig) fiber.Handler {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		logger := log.Logger
		if cfg.Logger != nil {
			logger = *cfg.Logger
		}

		start := time.Now()
		err := c.Next()

		// l'error handler non è ancora stato eseguito: lo status reale è nell'errore
		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(cfg, err)
		}

		var event *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error()
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		default:
			event = logger.Info()
		}

		event = event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP())
		if clientID := GetClientID(c); clientID != "" {
			event = event.Str("client_id", clientID)
		}
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("Request completed")

		return err
	}
}

func statusOf(cfg LoggingConfig, err error) int {
	if cfg.StatusOf != nil {
		return cfg.StatusOf(err)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// GetRequestID restituisce il request ID della richiesta, vuoto se assente
func GetRequestID(c fiber.Ctx) string {
	id, _ := c.Locals(string(RequestIDKey)).(string)
	return id
}
