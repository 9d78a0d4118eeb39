// Package gateway espone il manager delle conversazioni via HTTP
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/health"
	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/middleware"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Version versione riportata da /health
var Version = "dev"

// Pinger verifica la raggiungibilità dello store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps collaboratori del gateway. Monitor, Metrics e Store sono opzionali.
type Deps struct {
	Manager  *conversation.Manager
	Registry *router.Registry
	Monitor  *health.Monitor
	Metrics  http.Handler
	Store    Pinger
}

// Gateway è il boundary HTTP dell'orchestratore
type Gateway struct {
	config   *config.Config
	app      *fiber.App
	manager  *conversation.Manager
	registry *router.Registry
	health   *health.Monitor
	metrics  http.Handler
	store    Pinger
}

// New crea una nuova istanza del gateway
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Manager == nil {
		return nil, errors.New("gateway requires a conversation manager")
	}
	if deps.Registry == nil {
		return nil, errors.New("gateway requires a backend registry")
	}

	app := fiber.New(fiber.Config{
		AppName:      "OperatorOS",
		ServerHeader: "OperatorOS/" + Version,
		ErrorHandler: customErrorHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	gw := &Gateway{
		config:   cfg,
		app:      app,
		manager:  deps.Manager,
		registry: deps.Registry,
		health:   deps.Monitor,
		metrics:  deps.Metrics,
		store:    deps.Store,
	}

	gw.setupMiddlewares()
	gw.setupRoutes()

	return gw, nil
}

// App restituisce l'app fiber, usata nei test
func (g *Gateway) App() *fiber.App {
	return g.app
}

// customErrorHandler traduce gli errori di dominio in status HTTP
func customErrorHandler(c fiber.Ctx, err error) error {
	code, message := statusFor(err)

	if code >= fiber.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("path", c.Path()).
			Msg("Request failed")
	}

	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"request_id": middleware.GetRequestID(c),
	})
}

// statusFor mappa un errore sul codice HTTP e sul messaggio da esporre
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	var stepErr *executor.StepExecutionError

	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, conversation.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, conversation.ErrNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, conversation.ErrAlreadyComplete), errors.Is(err, conversation.ErrAlreadyFailed):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, conversation.ErrConversationBusy):
		return fiber.StatusLocked, err.Error()
	case errors.As(err, &stepErr):
		return fiber.StatusBadGateway, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "request timed out"
	default:
		return fiber.StatusInternalServerError, "Internal Server Error"
	}
}

// setupMiddlewares configura i middleware globali
func (g *Gateway) setupMiddlewares() {
	// Recovery per primo, per catturare tutti i panic
	g.app.Use(middleware.Recovery(middleware.RecoveryConfig{
		ExposeDetails: g.config.Monitoring.Logging.Level == "debug",
	}))
	g.app.Use(middleware.RequestID())
	g.app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: g.config.Server.CORSOrigins,
	}))
	g.app.Use(middleware.Logging(middleware.LoggingConfig{
		SkipPaths: []string{"/health", "/ready", "/metrics"},
		StatusOf: func(err error) int {
			code, _ := statusFor(err)
			return code
		},
	}))
}

// setupRoutes configura le route HTTP
func (g *Gateway) setupRoutes() {
	g.app.Get("/health", g.handleHealth)
	g.app.Get("/ready", g.handleReady)

	if g.config.Monitoring.Prometheus.Enabled && g.metrics != nil {
		handler := fasthttpadaptor.NewFastHTTPHandler(g.metrics)
		g.app.Get("/metrics", func(c fiber.Ctx) error {
			handler(c.RequestCtx())
			return nil
		})
	}

	api := g.app.Group("/v1", middleware.Auth(middleware.AuthConfig{
		Keys:      g.config.Server.APIKeys,
		RateLimit: g.config.Server.RateLimit,
	}))

	conv := api.Group("/conversations")
	conv.Post("", g.handleCreateConversation)
	conv.Get("", g.handleListConversations)
	conv.Get("/:id", g.handleGetConversation)
	conv.Post("/:id/advance", g.handleAdvance)
	conv.Post("/:id/run", g.handleRun)
	conv.Get("/:id/history", g.handleHistory)
	conv.Get("/:id/summary", g.handleSummary)

	api.Get("/backends", g.handleListBackends)
	api.Post("/backends/probe", g.handleProbeBackends)
	api.Get("/pipelines", g.handleListPipelines)
}

// Start avvia il gateway
func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Server.Host, g.config.Server.Port)
	return g.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown esegue lo shutdown graceful del gateway
func (g *Gateway) Shutdown(ctx context.Context) error {
	if err := g.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	log.Info().Msg("Gateway shutdown completed")
	return nil
}

// handleHealth endpoint di liveness
func (g *Gateway) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   Version,
	})
}

// handleReady pronto se lo store risponde e almeno un backend è live
func (g *Gateway) handleReady(c fiber.Ctx) error {
	if g.store != nil {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"ready": false,
				"error": "database ping failed",
			})
		}
	}

	live := g.registry.LiveNames()
	if len(live) == 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ready": false,
			"error": "no live backends",
		})
	}

	resp := fiber.Map{
		"ready":     true,
		"backends":  live,
		"timestamp": time.Now().Unix(),
	}
	if g.health != nil && !g.health.LastRun().IsZero() {
		resp["last_probe"] = g.health.LastRun().Unix()
	}
	return c.JSON(resp)
}
