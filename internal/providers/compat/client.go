package compat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/biodoia/operatoros/internal/providers"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client implementa un client REST compatibile OpenAI.
// Il base URL include già la versione, es. https://host/v1.
type Client struct {
	*providers.BaseProvider
	httpClient *resty.Client
}

// NewClient crea un nuovo client compatibile
func NewClient(name, baseURL, apiKey, model string) *Client {
	client := &Client{
		BaseProvider: providers.NewBaseProvider(name, baseURL, apiKey, model),
		httpClient:   resty.New(),
	}

	client.configureHTTPClient()
	return client
}

// WithTimeout imposta il timeout del client HTTP
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.SetTimeout(timeout)
	c.httpClient.SetTimeout(c.GetTimeout())
	return c
}

// configureHTTPClient configura il client HTTP; i retry sono gestiti dallo step executor
func (c *Client) configureHTTPClient() {
	c.httpClient.
		SetBaseURL(c.GetBaseURL()).
		SetTimeout(c.GetTimeout()).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if c.GetAPIKey() != "" {
		c.httpClient.SetAuthToken(c.GetAPIKey())
	}

	c.httpClient.OnBeforeRequest(func(client *resty.Client, req *resty.Request) error {
		log.Debug().
			Str("backend", c.Name()).
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("Compat API request")
		return nil
	})

	c.httpClient.OnAfterResponse(func(client *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("backend", c.Name()).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("Compat API response")
		return nil
	})
}

// Generate esegue una richiesta di chat completion
func (c *Client) Generate(ctx context.Context, req *providers.ChatRequest) *providers.Result {
	body := ChatCompletionRequest{
		Model:       c.ModelFor(req),
		Messages:    make([]ChatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ChatMessage{Role: m.Role, Content: m.Content})
	}

	var out ChatCompletionResponse
	var errResp ErrorResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errResp).
		Post("/chat/completions")
	if err != nil {
		return providers.Failed(providers.ClassifyTransport(err))
	}
	if resp.IsError() {
		return providers.Failed(c.handleErrorResponse(resp.StatusCode(), &errResp))
	}

	if len(out.Choices) == 0 {
		return providers.Failed(fmt.Errorf("%w: no choices", providers.ErrEmptyResponse))
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return providers.Failed(fmt.Errorf("%w: blank content", providers.ErrEmptyResponse))
	}

	model := out.Model
	if model == "" {
		model = body.Model
	}

	return providers.Succeeded(content, model, providers.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	})
}

// HealthCheck verifica credenziali e raggiungibilità tramite GET /models
func (c *Client) HealthCheck(ctx context.Context) error {
	var errResp ErrorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&ModelsResponse{}).
		SetError(&errResp).
		Get("/models")
	if err != nil {
		return providers.ClassifyTransport(err)
	}
	if resp.IsError() {
		return c.handleErrorResponse(resp.StatusCode(), &errResp)
	}
	return nil
}

// handleErrorResponse gestisce le risposte di errore
func (c *Client) handleErrorResponse(statusCode int, errResp *ErrorResponse) error {
	detail := errResp.Error.Message
	if detail != "" && errResp.Error.Type != "" {
		detail = fmt.Sprintf("%s (type: %s)", detail, errResp.Error.Type)
	}
	return providers.ClassifyStatus(statusCode, detail)
}
