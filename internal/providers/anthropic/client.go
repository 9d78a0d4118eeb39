package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/biodoia/operatoros/internal/providers"
)

const (
	// DefaultModel modello usato se la configurazione non ne indica uno
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens = 2048
)

// Client adapter per la Messages API di Anthropic
type Client struct {
	*providers.BaseProvider
	client anthropic.Client
}

// ClientOption opzione funzionale per configurare il client
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL imposta un endpoint alternativo
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTimeout imposta il timeout per richiesta
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// NewClient crea un nuovo client Anthropic
func NewClient(name, apiKey, model string, opts ...ClientOption) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if model == "" {
		model = DefaultModel
	}

	base := providers.NewBaseProvider(name, o.baseURL, apiKey, model)
	base.SetTimeout(o.timeout)

	// i retry appartengono allo step executor
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(base.GetTimeout()),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	return &Client{
		BaseProvider: base,
		client:       anthropic.NewClient(reqOpts...),
	}
}

// Generate esegue una richiesta alla Messages API
func (c *Client) Generate(ctx context.Context, req *providers.ChatRequest) *providers.Result {
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.ModelFor(req)),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Turns()),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if system := req.SystemPrompt(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return providers.Failed(classify(err))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return providers.Failed(fmt.Errorf("%w: no text blocks", providers.ErrEmptyResponse))
	}

	return providers.Succeeded(content, string(resp.Model), providers.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	})
}

// HealthCheck verifica le credenziali elencando i modelli
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.GetAPIKey() == "" {
		return providers.ErrMissingAPIKey
	}
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return classify(err)
	}
	return nil
}

// buildMessages converte i turni generici nel formato Anthropic
func buildMessages(turns []providers.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == providers.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}

// classify traduce gli errori dell'SDK negli errori sentinella dei provider
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.ClassifyStatus(apiErr.StatusCode, apiErr.Error())
	}
	return providers.ClassifyTransport(err)
}
