package providers

import (
	"context"
	"strings"
	"time"
)

// Kind identifica la famiglia di adapter da usare per un backend
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindCompat    Kind = "compat" // API REST compatibile OpenAI (Gemini, endpoint locali)
)

// Valid indica se il kind appartiene all'insieme supportato
func (k Kind) Valid() bool {
	switch k {
	case KindAnthropic, KindOpenAI, KindCompat:
		return true
	}
	return false
}

// BackendID identificatore stabile di un backend configurato
type BackendID string

const (
	BackendAnthropic BackendID = "anthropic"
	BackendOpenAI    BackendID = "openai"
	BackendGemini    BackendID = "gemini"
)

// Ruoli dei messaggi
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider è il contratto uniforme verso un backend LLM.
// Generate non restituisce errori: ogni fallimento è un Result con Success=false.
type Provider interface {
	// Name restituisce l'identificatore del backend
	Name() string

	// Generate esegue una chat completion
	Generate(ctx context.Context, req *ChatRequest) *Result

	// HealthCheck verifica raggiungibilità e credenziali
	HealthCheck(ctx context.Context) error
}

// Message rappresenta un messaggio nella conversazione
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest richiesta generica di chat completion
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// SystemPrompt concatena i messaggi di sistema
func (r *ChatRequest) SystemPrompt() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Turns restituisce i messaggi non di sistema, in ordine
func (r *ChatRequest) Turns() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Usage contiene le informazioni sull'uso dei token
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero indica che il backend non ha riportato l'uso
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Result esito strutturato di una chiamata
type Result struct {
	Content string        `json:"content"`
	Model   string        `json:"model"`
	Usage   Usage         `json:"usage"`
	Success bool          `json:"success"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

// Succeeded crea un risultato positivo
func Succeeded(content, model string, usage Usage) *Result {
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &Result{Content: content, Model: model, Usage: usage, Success: true}
}

// Failed crea un risultato di fallimento
func Failed(err error) *Result {
	return &Result{Success: false, Err: err}
}

// EstimateTokens stima grossolana: circa 4 caratteri per token
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(len(text)/4, 1)
}

// EstimateUsage stima l'uso quando il backend non lo riporta
func EstimateUsage(req *ChatRequest, output string) Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += EstimateTokens(m.Content)
	}
	completion := EstimateTokens(output)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// BaseProvider implementazione base condivisa dagli adapter
type BaseProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
}

// NewBaseProvider crea un nuovo base provider
func NewBaseProvider(name, baseURL, apiKey, model string) *BaseProvider {
	return &BaseProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: 60 * time.Second,
	}
}

func (b *BaseProvider) Name() string { return b.name }
func (b *BaseProvider) GetBaseURL() string { return b.baseURL }
func (b *BaseProvider) GetAPIKey() string { return b.apiKey }
func (b *BaseProvider) GetModel() string { return b.model }
func (b *BaseProvider) GetTimeout() time.Duration { return b.timeout }

// SetTimeout imposta il timeout del client HTTP sottostante
func (b *BaseProvider) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		b.timeout = timeout
	}
}

// ModelFor restituisce il modello della richiesta o quello di default
func (b *BaseProvider) ModelFor(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return b.model
}
