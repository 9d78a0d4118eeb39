package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/biodoia/operatoros/internal/providers"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel modello usato se la configurazione non ne indica uno
const DefaultModel = "gpt-4o"

// Client adapter per la Chat Completions API di OpenAI
type Client struct {
	*providers.BaseProvider
	client openai.Client
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

// NewClient crea un nuovo client OpenAI
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
		client:       openai.NewClient(reqOpts...),
	}
}

// Generate esegue una chat completion
func (c *Client) Generate(ctx context.Context, req *providers.ChatRequest) *providers.Result {
	params := openai.ChatCompletionNewParams{
		Model:    c.ModelFor(req),
		Messages: buildMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return providers.Failed(classify(err))
	}
	if len(resp.Choices) == 0 {
		return providers.Failed(fmt.Errorf("%w: no choices", providers.ErrEmptyResponse))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return providers.Failed(fmt.Errorf("%w: blank content", providers.ErrEmptyResponse))
	}

	return providers.Succeeded(content, resp.Model, providers.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	})
}

// HealthCheck verifica le credenziali elencando i modelli
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.GetAPIKey() == "" {
		return providers.ErrMissingAPIKey
	}
	if _, err := c.client.Models.List(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func buildMessages(msgs []providers.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case providers.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classify traduce gli errori dell'SDK negli errori sentinella dei provider
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.ClassifyStatus(apiErr.StatusCode, apiErr.Message)
	}
	return providers.ClassifyTransport(err)
}
