// Package conversation implementa la macchina a stati delle conversazioni
// multi-agente: creazione, avanzamento step per step, storico.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/notifications"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config parametri del manager
type Config struct {
	MaxInputLength int
	PersistTimeout time.Duration
}

// DefaultConfig restituisce la configurazione di default
func DefaultConfig() Config {
	return Config{
		MaxInputLength: 5000,
		PersistTimeout: 5 * time.Second,
	}
}

// ConfigFrom deriva la configurazione dalla sezione orchestration
func ConfigFrom(o config.OrchestrationConfig) Config {
	return Config{
		MaxInputLength: o.MaxInputLength,
		PersistTimeout: o.PersistTimeout,
	}
}

// CreateRequest parametri di creazione. Se Agents è vuoto viene usata la pipeline indicata.
type CreateRequest struct {
	Input      string
	Agents     []string
	Pipeline   string
	SessionRef string
}

// AdvanceOptions opzioni di un singolo avanzamento
type AdvanceOptions struct {
	// InputOverride sostituisce l'input derivato dallo storico
	InputOverride *string
	// Backend forza il primo tentativo su un backend
	Backend  string
	Priority agents.Priority
}

// Manager gestisce il ciclo di vita delle conversazioni
type Manager struct {
	store    Store
	runner   StepRunner
	locker   Locker
	notifier Notifier
	packager Packager
	cfg      Config
}

// Option opzione funzionale del manager
type Option func(*Manager)

// WithLocker sostituisce il lock in-process
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithNotifier imposta il destinatario degli eventi
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithPackager imposta il collaboratore di packaging
func WithPackager(p Packager) Option {
	return func(m *Manager) {
		if p != nil {
			m.packager = p
		}
	}
}

// WithConfig imposta limiti e timeout
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// NewManager crea un nuovo manager
func NewManager(store Store, runner StepRunner, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		runner:   runner,
		locker:   NewMemoryLocker(),
		notifier: nopNotifier{},
		packager: LogPackager{},
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}

	def := DefaultConfig()
	if m.cfg.MaxInputLength < 1 {
		m.cfg.MaxInputLength = def.MaxInputLength
	}
	if m.cfg.PersistTimeout <= 0 {
		m.cfg.PersistTimeout = def.PersistTimeout
	}
	return m
}

// Create valida e persiste una nuova conversazione in stato running
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Conversation, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("%w: input must not be empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(req.Input); n > m.cfg.MaxInputLength {
		return nil, fmt.Errorf("%w: input has %d characters, limit is %d", ErrValidation, n, m.cfg.MaxInputLength)
	}

	roles, err := resolveAgents(req)
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		SessionRef:   req.SessionRef,
		InitialInput: req.Input,
		Status:       models.StatusRunning,
	}
	if err := conv.SetAgents(agents.RoleStrings(roles)); err != nil {
		return nil, fmt.Errorf("encode agents: %w", err)
	}

	if err := m.store.InsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	log.Info().
		Str("conversation_id", conv.ID.String()).
		Strs("agents", agents.RoleStrings(roles)).
		Str("session_ref", conv.SessionRef).
		Msg("Conversation created")

	m.notify(ctx, notifications.EventConversationStarted, conv)
	return conv, nil
}

func resolveAgents(req CreateRequest) ([]agents.Role, error) {
	if len(req.Agents) == 0 {
		if req.Pipeline == "" {
			return nil, fmt.Errorf("%w: agent list must not be empty", ErrValidation)
		}
		roles, err := agents.Pipeline(req.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return roles, nil
	}

	roles, err := agents.ParseRoles(req.Agents)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return roles, nil
}

// Get restituisce lo stato corrente della conversazione
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// History restituisce i record in ordine di append, errori inclusi
func (m *Manager) History(ctx context.Context, id uuid.UUID) ([]models.StepRecord, error) {
	if _, err := m.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListSteps(ctx, id)
}

// List elenca le conversazioni, più recenti prima
func (m *Manager) List(ctx context.Context, filter database.ListFilter) ([]models.Conversation, error) {
	return m.store.ListConversations(ctx, filter)
}

// Advance esegue il prossimo agente della conversazione
func (m *Manager) Advance(ctx context.Context, id uuid.UUID, opts AdvanceOptions) (*models.StepRecord, error) {
	unlock, ok, err := m.locker.TryLock(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("acquire conversation lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, id)
	}
	defer unlock()

	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	switch conv.Status {
	case models.StatusCompleted:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyComplete, id)
	case models.StatusFailed:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFailed, id)
	case models.StatusNotStarted:
		conv.Status = models.StatusRunning
	}

	roles := conv.AgentList()
	if conv.CurrentStep >= len(roles) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyComplete, id)
	}

	steps, err := m.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	step := conv.CurrentStep
	role := agents.Role(roles[step])
	final := step == len(roles)-1

	pinned, input := agents.ParseBackendOverride(stepInput(conv, steps, opts.InputOverride))
	if opts.Backend != "" {
		pinned = opts.Backend
	}

	logger := log.With().
		Str("conversation_id", id.String()).
		Str("agent", string(role)).
		Int("step", step).
		Logger()

	logger.Debug().
		Str("pinned_backend", pinned).
		Bool("final", final).
		Msg("Advancing conversation")

	outcome, execErr := m.runner.Execute(ctx, executor.Request{
		ConversationID: id.String(),
		Role:           role,
		Input:          input,
		History:        history(steps),
		Final:          final,
		PinnedBackend:  pinned,
		Priority:       opts.Priority,
	})
	if outcome == nil {
		outcome = &executor.Outcome{}
	}

	// la persistenza sopravvive alla cancellazione del chiamante
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()

	rec := newRecord(step, role, input, outcome)

	if execErr != nil {
		if err := m.recordFailure(persistCtx, &logger, conv, rec, execErr); err != nil {
			return nil, err
		}
		return nil, execErr
	}

	if !final && outcome.Handoff != "" {
		handoff := outcome.Handoff
		rec.HandoffText = &handoff
	}

	conv.CurrentStep++
	conv.TotalTokens += outcome.Usage.TotalTokens
	conv.EstimatedCost += outcome.Cost
	completed := conv.CurrentStep == len(roles)
	if completed {
		now := time.Now().UTC()
		conv.Status = models.StatusCompleted
		conv.IsComplete = true
		conv.CompletedAt = &now
	}

	if err := m.store.AppendStep(persistCtx, conv, rec); err != nil {
		return nil, persistError(err)
	}

	logger.Info().
		Str("backend", rec.Backend).
		Int("attempts", rec.Attempts).
		Int("current_step", conv.CurrentStep).
		Int("total_steps", len(roles)).
		Msg("Step recorded")

	if completed {
		logger.Info().
			Int("total_tokens", conv.TotalTokens).
			Float64("estimated_cost", conv.EstimatedCost).
			Msg("Conversation completed")

		if err := m.packager.Package(persistCtx, conv.ID); err != nil {
			logger.Error().Err(err).Msg("Packaging hand-off failed")
		}
		m.notify(persistCtx, notifications.EventConversationCompleted, conv)
	}

	out := rec.Clone()
	return &out, nil
}

// recordFailure persiste il record di errore. Un errore fatale porta la conversazione in failed.
func (m *Manager) recordFailure(ctx context.Context, logger *zerolog.Logger, conv *models.Conversation,
	rec *models.StepRecord, cause error) error {

	detail := cause.Error()
	rec.IsError = true
	rec.ErrorDetail = &detail

	fatal := executor.IsFatal(cause)
	conv.ErrorCount++
	if fatal {
		conv.Status = models.StatusFailed
		conv.IsComplete = true
		conv.FailureReason = detail
	}

	if err := m.store.AppendStep(ctx, conv, rec); err != nil {
		logger.Error().
			Err(err).
			AnErr("cause", cause).
			Msg("Failed to persist error record")
		return persistError(err)
	}

	if !fatal {
		logger.Warn().
			Err(cause).
			Int("error_count", conv.ErrorCount).
			Msg("Step failed, conversation remains running")
		return nil
	}

	logger.Error().
		Err(cause).
		Int("error_count", conv.ErrorCount).
		Msg("Conversation failed")
	m.notify(ctx, notifications.EventConversationFailed, conv)
	return nil
}

// RunToCompletion avanza fino a uno stato terminale o al primo errore.
// Il Summary è restituito anche in caso di errore.
func (m *Manager) RunToCompletion(ctx context.Context, id uuid.UUID) (*Summary, error) {
	var runErr error
	for {
		conv, err := m.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv.Status == models.StatusCompleted {
			break
		}
		if conv.Status == models.StatusFailed {
			runErr = fmt.Errorf("%w: %s", ErrAlreadyFailed, id)
			break
		}
		if _, err := m.Advance(ctx, id, AdvanceOptions{}); err != nil {
			runErr = err
			break
		}
	}

	summary, err := m.Summarize(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return summary, runErr
}

// Summarize costruisce il riepilogo a partire dallo stato persistito
func (m *Manager) Summarize(ctx context.Context, id uuid.UUID) (*Summary, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := m.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return Summarize(conv, steps), nil
}

func (m *Manager) notify(ctx context.Context, t notifications.EventType, conv *models.Conversation) {
	if err := m.notifier.Notify(ctx, notifications.NewConversationEvent(t, conv)); err != nil {
		log.Warn().
			Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("event", string(t)).
			Msg("Notification failed")
	}
}

// stepInput sceglie l'input: override, input iniziale o hand-off dello step precedente
func stepInput(conv *models.Conversation, steps []models.StepRecord, override *string) string {
	if override != nil {
		return *override
	}
	if conv.CurrentStep == 0 {
		return conv.InitialInput
	}
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.IsError || s.StepIndex != conv.CurrentStep-1 {
			continue
		}
		if s.HandoffText != nil && *s.HandoffText != "" {
			return *s.HandoffText
		}
		return s.OutputText
	}
	return conv.InitialInput
}

func history(steps []models.StepRecord) []agents.Turn {
	turns := make([]agents.Turn, 0, len(steps))
	for _, s := range models.SuccessfulSteps(steps) {
		turns = append(turns, agents.Turn{Role: agents.Role(s.AgentRole), Output: s.OutputText})
	}
	return turns
}

func newRecord(step int, role agents.Role, input string, o *executor.Outcome) *models.StepRecord {
	return &models.StepRecord{
		StepIndex:        step,
		AgentRole:        string(role),
		InputText:        input,
		OutputText:       o.Output,
		Backend:          o.Backend,
		Model:            o.Model,
		Attempts:         o.Attempts,
		DurationMs:       o.Duration.Milliseconds(),
		PromptTokens:     o.Usage.PromptTokens,
		CompletionTokens: o.Usage.CompletionTokens,
		TotalTokens:      o.Usage.TotalTokens,
		EstimatedCost:    o.Cost,
	}
}

func persistError(err error) error {
	if errors.Is(err, database.ErrVersionConflict) {
		return fmt.Errorf("%w: %w", ErrConversationBusy, err)
	}
	return fmt.Errorf("persist step: %w", err)
}
