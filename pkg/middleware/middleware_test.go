package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())

	var seen string
	app.Get("/test", func(c fiber.Ctx) error {
		seen = GetRequestID(c)
		return c.SendString("OK")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, resp.Header.Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", resp.Header.Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Use(Recovery(RecoveryConfig{ExposeDetails: true}))
	app.Get("/panic", func(c fiber.Ctx) error {
		panic("test panic")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test panic", body["details"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAuth(t *testing.T) {
	newApp := func(cfg AuthConfig) *fiber.App {
		app := fiber.New()
		app.Use(Auth(cfg))
		app.Get("/v1/ping", func(c fiber.Ctx) error {
			return c.SendString(GetClientID(c))
		})
		return app
	}

	tests := []struct {
		name   string
		keys   []string
		header string
		value  string
		want   int
	}{
		{"open mode", nil, "", "", http.StatusOK},
		{"missing key", []string{"k1"}, "", "", http.StatusUnauthorized},
		{"bearer ok", []string{"k1", "k2"}, "Authorization", "Bearer k2", http.StatusOK},
		{"header ok", []string{"k1"}, APIKeyHeader, "k1", http.StatusOK},
		{"wrong key", []string{"k1"}, APIKeyHeader, "nope", http.StatusUnauthorized},
		{"wrong scheme", []string{"k1"}, "Authorization", "Basic k1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := newApp(AuthConfig{Keys: tt.keys}).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	t.Run("client id from key digest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
		req.Header.Set(APIKeyHeader, "k1")
		resp, err := newApp(AuthConfig{Keys: []string{"k1"}}).Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, HashKey("k1")[:12], string(body))
	})
}

func TestAuth_RateLimit(t *testing.T) {
	app := fiber.New()
	app.Use(Auth(AuthConfig{RateLimit: 2}))
	app.Get("/", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedOrigins: []string{"https://app.example.com", "*.internal.net"}}))
	app.Get("/", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"no origin", http.MethodGet, "", http.StatusOK},
		{"allowed", http.MethodGet, "https://app.example.com", http.StatusOK},
		{"wildcard subdomain", http.MethodGet, "https://ops.internal.net", http.StatusOK},
		{"denied", http.MethodGet, "https://evil.com", http.StatusForbidden},
		{"preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.method == http.MethodOptions {
				assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Use(Logging(LoggingConfig{SkipPaths: []string{"/health"}}))
	app.Get("/health", func(c fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/fail", func(c fiber.Ctx) error { return fiber.ErrBadRequest })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogging_StatusFromError(t *testing.T) {
	errMissing := errors.New("missing")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			return c.Status(fiber.StatusNotFound).SendString(err.Error())
		},
	})
	app.Use(RequestID())
	app.Use(Logging(LoggingConfig{
		Logger: &logger,
		StatusOf: func(err error) int {
			if errors.Is(err, errMissing) {
				return fiber.StatusNotFound
			}
			return fiber.StatusInternalServerError
		},
	}))
	app.Get("/thing", func(c fiber.Ctx) error { return errMissing })

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Header.Set(RequestIDHeader, "log-id")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(404), entry["status"])
	assert.Equal(t, "log-id", entry["request_id"])
	assert.Equal(t, "missing", entry["error"])
}
