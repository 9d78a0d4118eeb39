package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ContextKey tipo per le chiavi del context
type ContextKey string

// ClientIDKey chiave per l'identificativo del client autenticato
const ClientIDKey ContextKey = "client_id"

// APIKeyHeader header alternativo a Authorization
const APIKeyHeader = "X-API-Key"

// AuthConfig configurazione del middleware di autenticazione
type AuthConfig struct {
	// Keys chiavi accettate. Se vuoto il middleware lascia passare tutto
	Keys []string
	// RateLimit richieste al minuto per client, 0 = nessun limite
	RateLimit int
}

// clientRateLimiter rate limiting per client
type clientRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

func newClientRateLimiter(requestsPerMinute int) *clientRateLimiter {
	return &clientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    rate.Limit(requestsPerMinute) / 60.0,
		burst:    requestsPerMinute,
	}
}

func (rl *clientRateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[clientID] = limiter
	}
	rl.lastSeen[clientID] = time.Now()
	rl.evict(10 * time.Minute)
	return limiter.Allow()
}

// evict rimuove i limiter inattivi da più di idle
func (rl *clientRateLimiter) evict(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	for id, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.lastSeen, id)
			delete(rl.limiters, id)
		}
	}
}

// HashKey digest esadecimale di una chiave
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Auth middleware per autenticazione con API key statiche.
// Accetta "Authorization: Bearer <key>" oppure l'header X-API-Key.
func Auth(config AuthConfig) fiber.Handler {
	hashes := make([][]byte, 0, len(config.Keys))
	for _, k := range config.Keys {
		if k = strings.TrimSpace(k); k != "" {
			hashes = append(hashes, []byte(HashKey(k)))
		}
	}

	var limiter *clientRateLimiter
	if config.RateLimit > 0 {
		limiter = newClientRateLimiter(config.RateLimit)
	}

	return func(c fiber.Ctx) error {
		clientID := "anonymous"

		if len(hashes) > 0 {
			key := extractKey(c)
			if key == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "missing api key",
				})
			}

			digest := []byte(HashKey(key))
			matched := false
			for _, h := range hashes {
				if subtle.ConstantTimeCompare(digest, h) == 1 {
					matched = true
				}
			}
			if !matched {
				log.Debug().
					Str("request_id", GetRequestID(c)).
					Str("ip", c.IP()).
					Msg("API key rejected")
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid api key",
				})
			}
			clientID = string(digest[:12])
		}

		if limiter != nil {
			id := clientID
			if id == "anonymous" {
				id = c.IP()
			}
			if !limiter.allow(id) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "rate limit exceeded",
				})
			}
		}

		c.SetContext(context.WithValue(c.Context(), ClientIDKey, clientID))
		c.Locals(string(ClientIDKey), clientID)
		return c.Next()
	}
}

func extractKey(c fiber.Ctx) string {
	if h := c.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(c.Get(APIKeyHeader))
}

// GetClientID client autenticato della richiesta
func GetClientID(c fiber.Ctx) string {
	id, _ := c.Locals(string(ClientIDKey)).(string)
	return id
}
