package gateway

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/pkg/middleware"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// CreateConversationRequest body di POST /v1/conversations
type CreateConversationRequest struct {
	Input      string   `json:"input"`
	Agents     []string `json:"agents"`
	Pipeline   string   `json:"pipeline"`
	SessionRef string   `json:"session_ref"`
}

// AdvanceRequest body di POST /v1/conversations/:id/advance
type AdvanceRequest struct {
	Input    *string `json:"input"`
	Backend  string  `json:"backend"`
	Priority string  `json:"priority"`
}

// ConversationResponse stato di una conversazione
type ConversationResponse struct {
	*models.Conversation
	AgentList []string `json:"agent_list"`
	NextAgent string   `json:"next_agent,omitempty"`
}

func newConversationResponse(conv *models.Conversation) ConversationResponse {
	list := conv.AgentList()
	resp := ConversationResponse{Conversation: conv, AgentList: list}
	if conv.Status == models.StatusRunning && conv.CurrentStep < len(list) {
		resp.NextAgent = list[conv.CurrentStep]
	}
	return resp
}

func parseID(c fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid conversation id %q", conversation.ErrValidation, c.Params("id"))
	}
	return id, nil
}

// handleCreateConversation crea una conversazione in stato running
func (g *Gateway) handleCreateConversation(c fiber.Ctx) error {
	var req CreateConversationRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	conv, err := g.manager.Create(c.Context(), conversation.CreateRequest{
		Input:      req.Input,
		Agents:     req.Agents,
		Pipeline:   req.Pipeline,
		SessionRef: req.SessionRef,
	})
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderLocation, "/v1/conversations/"+conv.ID.String())
	return c.Status(fiber.StatusCreated).JSON(newConversationResponse(conv))
}

// handleListConversations elenca le conversazioni con filtri opzionali
func (g *Gateway) handleListConversations(c fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: invalid limit %q", conversation.ErrValidation, raw)
		}
		limit = min(n, 500)
	}

	filter := database.ListFilter{
		Status:     models.ConversationStatus(c.Query("status")),
		SessionRef: c.Query("session_ref"),
		Limit:      limit,
	}
	switch filter.Status {
	case "", models.StatusRunning, models.StatusCompleted, models.StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", conversation.ErrValidation, filter.Status)
	}

	convs, err := g.manager.List(c.Context(), filter)
	if err != nil {
		return err
	}

	out := make([]ConversationResponse, 0, len(convs))
	for i := range convs {
		out = append(out, newConversationResponse(&convs[i]))
	}
	return c.JSON(fiber.Map{
		"conversations": out,
		"count":         len(out),
	})
}

// handleGetConversation restituisce lo stato corrente
func (g *Gateway) handleGetConversation(c fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	conv, err := g.manager.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(newConversationResponse(conv))
}

// handleAdvance esegue il prossimo agente
func (g *Gateway) handleAdvance(c fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req AdvanceRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	priority, err := agents.ParsePriority(req.Priority)
	if err != nil {
		return fmt.Errorf("%w: %w", conversation.ErrValidation, err)
	}
	if req.Backend != "" && !containsName(g.registry.Names(), req.Backend) {
		return fmt.Errorf("%w: unknown backend %q", conversation.ErrValidation, req.Backend)
	}

	record, err := g.manager.Advance(c.Context(), id, conversation.AdvanceOptions{
		InputOverride: req.Input,
		Backend:       req.Backend,
		Priority:      priority,
	})
	if err != nil {
		return err
	}

	conv, err := g.manager.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"step":         record,
		"conversation": newConversationResponse(conv),
	})
}

// handleRun avanza fino al completamento. In caso di errore il riepilogo
// parziale viene incluso nella risposta.
func (g *Gateway) handleRun(c fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	summary, runErr := g.manager.RunToCompletion(c.Context(), id)
	if runErr == nil {
		return c.JSON(summary)
	}
	if summary == nil {
		return runErr
	}

	code, message := statusFor(runErr)
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"summary":    summary,
		"request_id": middleware.GetRequestID(c),
	})
}

// handleHistory storico completo, errori inclusi
func (g *Gateway) handleHistory(c fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	steps, err := g.manager.History(c.Context(), id)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []models.StepRecord{}
	}
	return c.JSON(fiber.Map{
		"conversation_id": id,
		"steps":           steps,
		"count":           len(steps),
	})
}

// handleSummary riepilogo della conversazione
func (g *Gateway) handleSummary(c fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	summary, err := g.manager.Summarize(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// handleListBackends stato di tutti i backend registrati
func (g *Gateway) handleListBackends(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"backends": g.registry.Status(),
		"live":     g.registry.LiveNames(),
	})
}

// handleProbeBackends riesegue l'health check di tutti i backend
func (g *Gateway) handleProbeBackends(c fiber.Ctx) error {
	failures := g.registry.Probe(c.Context())

	errs := make(map[string]string, len(failures))
	for name, err := range failures {
		errs[name] = err.Error()
	}
	return c.JSON(fiber.Map{
		"live":     g.registry.LiveNames(),
		"failures": errs,
	})
}

// handleListPipelines pipeline predefinite e ruoli
func (g *Gateway) handleListPipelines(c fiber.Ctx) error {
	out := make(map[string][]agents.Role)
	for _, name := range []string{agents.PipelineCore, agents.PipelineExtended, agents.PipelineFull} {
		roles, err := agents.Pipeline(name)
		if err != nil {
			return errors.Join(fiber.ErrInternalServerError, err)
		}
		out[name] = roles
	}
	return c.JSON(fiber.Map{
		"pipelines": out,
		"default":   g.config.Orchestration.DefaultPipeline,
	})
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
