package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
)

const defaultCORSMaxAge = 24 * time.Hour

var (
	corsMethods = strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodHead, fiber.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader, APIKeyHeader}, ", ")
	corsExposed = strings.Join([]string{"Content-Length", "Location", RequestIDHeader}, ", ")
)

// CORSConfig origin ammessi e durata della cache del preflight.
// Un origin "*.example.com" accetta qualsiasi sottodominio.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type originMatcher struct {
	any      bool
	exact    map[string]bool
	suffixes []string
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]bool, len(origins))}
	if len(origins) == 0 {
		m.any = true
	}
	for _, o := range origins {
		switch {
		case o == "*":
			m.any = true
		case strings.HasPrefix(o, "*."):
			m.suffixes = append(m.suffixes, o[1:])
		default:
			m.exact[o] = true
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any || m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(origin, s) {
			return true
		}
	}
	return false
}

// CORS gestisce le richieste cross-origin verso l'API. Le credenziali non sono
// mai inoltrate: l'autenticazione usa header espliciti.
func CORS(cfg CORSConfig) fiber.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	maxAgeValue := strconv.Itoa(int(maxAge.Seconds()))

	return func(c fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		if !matcher.allows(origin) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "origin not allowed",
			})
		}

		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)

		if c.Method() == fiber.MethodOptions {
			c.Set(fiber.HeaderAccessControlAllowMethods, corsMethods)
			c.Set(fiber.HeaderAccessControlAllowHeaders, corsHeaders)
			c.Set(fiber.HeaderAccessControlMaxAge, maxAgeValue)
			return c.SendStatus(fiber.StatusNoContent)
		}

		c.Set(fiber.HeaderAccessControlExposeHeaders, corsExposed)
		return c.Next()
	}
}
