package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/resilience"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Esiti di un tentativo riportati al Recorder
const (
	ResultSuccess         = "success"
	ResultBackendError    = "backend_error"
	ResultInvalidResponse = "invalid_response"
)

// Config parametri dello step executor
type Config struct {
	MaxAttempts       int
	AttemptTimeout    time.Duration
	BackoffStep       time.Duration
	MaxBackoff        time.Duration
	MinResponseLength int
	ContextWindow     int
	HandoffMarker     string
}

// DefaultConfig restituisce la configurazione di default
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		AttemptTimeout:    15 * time.Second,
		BackoffStep:       2 * time.Second,
		MaxBackoff:        30 * time.Second,
		MinResponseLength: 50,
		ContextWindow:     agents.DefaultContextWindow,
		HandoffMarker:     agents.DefaultHandoffMarker,
	}
}

// ConfigFrom deriva la configurazione dalla sezione orchestration
func ConfigFrom(o config.OrchestrationConfig) Config {
	return Config{
		MaxAttempts:       o.MaxAttempts,
		AttemptTimeout:    o.AttemptTimeout,
		BackoffStep:       o.BackoffStep,
		MaxBackoff:        o.MaxBackoff,
		MinResponseLength: o.MinResponseLength,
		ContextWindow:     o.ContextWindow,
		HandoffMarker:     o.HandoffMarker,
	}
}

// Recorder riceve l'esito di ogni tentativo, tipicamente per le metriche
type Recorder interface {
	RecordAttempt(backend string, role agents.Role, result string, latency time.Duration)
	RecordUsage(backend string, usage providers.Usage, cost float64)
}

// Request input di uno step
type Request struct {
	ConversationID string
	Role           agents.Role
	Input          string
	History        []agents.Turn
	Final          bool
	PinnedBackend  string
	Priority       agents.Priority
}

// Outcome esito di uno step. In caso di errore Execute restituisce comunque
// un Outcome con Attempts, Backend e Duration valorizzati.
type Outcome struct {
	Output   string
	Handoff  string
	Backend  string
	Model    string
	Attempts int
	Duration time.Duration
	Usage    providers.Usage
	Cost     float64
}

// Executor esegue un turno di agente con retry, timeout e failover
type Executor struct {
	router   *router.Router
	registry *router.Registry
	cfg      Config
	extract  agents.HandoffExtractor
	recorder Recorder
}

// Option opzione funzionale dell'executor
type Option func(*Executor)

// WithRecorder registra un Recorder per gli esiti dei tentativi
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithHandoffExtractor sostituisce il parser del testo di hand-off
func WithHandoffExtractor(fn agents.HandoffExtractor) Option {
	return func(e *Executor) {
		if fn != nil {
			e.extract = fn
		}
	}
}

// New crea un nuovo step executor
func New(r *router.Router, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.ContextWindow < 0 {
		cfg.ContextWindow = 0
	}
	if cfg.HandoffMarker == "" {
		cfg.HandoffMarker = def.HandoffMarker
	}

	e := &Executor{
		router:   r,
		registry: r.Registry(),
		cfg:      cfg,
		extract:  agents.MarkerExtractor(cfg.HandoffMarker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config restituisce la configurazione effettiva
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute esegue lo step. Gli errori possibili sono *StepExecutionError
// (budget esaurito, fatale) oppure l'errore del context del chiamante.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{}

	logger := log.With().
		Str("conversation_id", req.ConversationID).
		Str("agent", string(req.Role)).
		Logger()

	profile := agents.ProfileFor(req.Role)
	params := profile.Parameters(req.Priority)
	chat := &providers.ChatRequest{
		Messages: agents.BuildMessages(agents.PromptInput{
			Role:    req.Role,
			Input:   req.Input,
			History: req.History,
			Final:   req.Final,
			Marker:  e.cfg.HandoffMarker,
			Window:  e.cfg.ContextWindow,
		}),
		Temperature: &params.Temperature,
		MaxTokens:   &params.MaxTokens,
	}

	candidates := e.router.Rank(req.Role, req.Input)
	if req.PinnedBackend != "" {
		candidates = router.PinFirst(candidates, req.PinnedBackend)
	}

	cursor := 0
	var lastErr error

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: e.cfg.MaxAttempts,
		BackoffStep: e.cfg.BackoffStep,
		MaxBackoff:  e.cfg.MaxBackoff,
		RetryableChecker: func(err error) bool {
			return !errors.Is(err, router.ErrNoBackendsAvailable)
		},
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Step attempt failed, retrying")
		},
	})

	err := retry.Execute(ctx, func(ctx context.Context, attempt int) error {
		cand, next, ok := e.nextLive(candidates, cursor)
		if !ok {
			lastErr = router.ErrNoBackendsAvailable
			return lastErr
		}
		cursor = next
		outcome.Attempts = attempt
		outcome.Backend = cand.Name

		lastErr = e.attempt(ctx, &logger, attempt, req.Role, cand, chat, req.Final, outcome)
		return lastErr
	})
	outcome.Duration = time.Since(start)

	if err == nil {
		logger.Info().
			Str("backend", outcome.Backend).
			Int("attempts", outcome.Attempts).
			Int("tokens", outcome.Usage.TotalTokens).
			Dur("duration", outcome.Duration).
			Msg("Step completed")
		return outcome, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Warn().
			Err(ctxErr).
			Int("attempts", outcome.Attempts).
			Msg("Step interrupted by caller")
		return outcome, fmt.Errorf("agent %s interrupted after %d attempts: %w", req.Role, outcome.Attempts, ctxErr)
	}

	if lastErr == nil {
		lastErr = err
	}
	stepErr := &StepExecutionError{
		Role:        req.Role,
		Attempts:    outcome.Attempts,
		LastBackend: outcome.Backend,
		Cause:       lastErr,
	}
	logger.Error().
		Err(stepErr).
		Msg("Step execution failed")
	return outcome, stepErr
}

// nextLive restituisce il primo candidato ancora live a partire da cursor,
// scorrendo la lista in modo circolare
func (e *Executor) nextLive(cands []router.Candidate, cursor int) (router.Candidate, int, bool) {
	n := len(cands)
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if e.registry.IsLive(cands[idx].Name) {
			return cands[idx], idx + 1, true
		}
	}
	return router.Candidate{}, cursor, false
}

func (e *Executor) attempt(ctx context.Context, logger *zerolog.Logger, attempt int, role agents.Role,
	cand router.Candidate, chat *providers.ChatRequest, final bool, outcome *Outcome) error {

	p, desc, err := e.registry.Get(cand.Name)
	if err != nil {
		return &BackendError{Backend: cand.Name, Cause: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	res := providers.Call(attemptCtx, p, chat)

	if !res.Success {
		e.registry.RecordError(cand.Name)
		e.record(cand.Name, role, ResultBackendError, res.Latency)
		if providers.IsUnreachable(res.Err) {
			e.registry.MarkUnreachable(cand.Name, res.Err)
		}
		logger.Debug().
			Err(res.Err).
			Str("backend", cand.Name).
			Int("attempt", attempt).
			Dur("latency", res.Latency).
			Msg("Backend call failed")
		return &BackendError{Backend: cand.Name, Cause: res.Err}
	}

	if verr := e.validate(cand.Name, res.Content, final); verr != nil {
		e.registry.RecordError(cand.Name)
		logger.Debug().
			Err(verr).
			Str("backend", cand.Name).
			Int("attempt", attempt).
			Msg("Backend response rejected")
		e.record(cand.Name, role, ResultInvalidResponse, res.Latency)
		return verr
	}

	e.registry.RecordSuccess(cand.Name, res.Latency)

	usage := res.Usage
	if usage.IsZero() {
		usage = providers.EstimateUsage(chat, res.Content)
	}

	outcome.Output = res.Content
	outcome.Model = res.Model
	if outcome.Model == "" {
		outcome.Model = desc.Model
	}
	outcome.Usage = usage
	outcome.Cost = desc.Pricing.Cost(usage)
	if !final {
		outcome.Handoff, _ = e.extract(res.Content)
	}

	if e.recorder != nil {
		e.recorder.RecordAttempt(cand.Name, role, ResultSuccess, res.Latency)
		e.recorder.RecordUsage(cand.Name, usage, outcome.Cost)
	}
	return nil
}

func (e *Executor) validate(backend, output string, final bool) error {
	trimmed := strings.TrimSpace(output)
	// la soglia è esclusiva e conta caratteri, non byte
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n == 0:
		return &ResponseValidationError{Backend: backend, Reason: ErrEmptyResponse}
	case n <= e.cfg.MinResponseLength:
		return &ResponseValidationError{Backend: backend, Reason: ErrResponseTooShort, Length: n}
	}
	if !final {
		if _, ok := e.extract(output); !ok {
			return &ResponseValidationError{Backend: backend, Reason: ErrHandoffMissing, Length: n}
		}
	}
	return nil
}

func (e *Executor) record(backend string, role agents.Role, result string, latency time.Duration) {
	if e.recorder != nil {
		e.recorder.RecordAttempt(backend, role, result, latency)
	}
}
