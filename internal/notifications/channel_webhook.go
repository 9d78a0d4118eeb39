package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// WebhookChannelName nome del canale webhook
	WebhookChannelName = "webhook"

	// SignatureHeader header con la firma HMAC-SHA256 del body
	SignatureHeader = "X-OperatorOS-Signature"
	// EventHeader header con il tipo di evento
	EventHeader = "X-OperatorOS-Event"
)

// WebhookConfig configurazione per il canale webhook
type WebhookConfig struct {
	URL        string
	Secret     string // Per firma HMAC
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// WebhookPayload rappresenta il payload inviato al webhook
type WebhookPayload struct {
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// WebhookChannel invia gli eventi come POST JSON firmati
type WebhookChannel struct {
	config WebhookConfig
	client *resty.Client
}

// NewWebhookChannel crea un nuovo canale webhook
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(4*cfg.RetryDelay).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "OperatorOS-Notifier/1.0").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &WebhookChannel{config: cfg, client: client}
}

// Name implementa Channel
func (wc *WebhookChannel) Name() string { return WebhookChannelName }

// Send implementa Channel
func (wc *WebhookChannel) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(NewWebhookPayload(event))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req := wc.client.R().
		SetContext(ctx).
		SetHeader(EventHeader, string(event.Type())).
		SetBody(body)
	if wc.config.Secret != "" {
		req.SetHeader(SignatureHeader, Sign(wc.config.Secret, body))
	}

	resp, err := req.Post(wc.config.URL)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}

	log.Debug().
		Str("url", wc.config.URL).
		Str("event_type", string(event.Type())).
		Int("status", resp.StatusCode()).
		Msg("Webhook delivered")
	return nil
}

// NewWebhookPayload costruisce il payload dall'evento
func NewWebhookPayload(event Event) WebhookPayload {
	return WebhookPayload{
		EventType: string(event.Type()),
		Severity:  string(event.Severity()),
		Message:   event.Message(),
		Timestamp: event.Timestamp().UTC().Format(time.RFC3339),
		Metadata:  event.Metadata(),
	}
}

// Sign calcola la firma "sha256=<hex>" del body
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifica la firma di un webhook ricevuto
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
