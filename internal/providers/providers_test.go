package providers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/tests/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatRequest(text string) *providers.ChatRequest {
	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "be precise"},
			{Role: providers.RoleUser, Content: text},
		},
	}
}

func TestCall_Success(t *testing.T) {
	p := mocks.NewScriptedProvider("a", mocks.Step{Content: "hello world"})

	res := providers.Call(context.Background(), p, chatRequest("hi"))
	require.True(t, res.Success)
	assert.Equal(t, "hello world", res.Content)
	assert.Equal(t, "mock-a", res.Model)
	assert.Positive(t, res.Latency)
}

func TestCall_EnforcesDeadline(t *testing.T) {
	p := mocks.NewScriptedProvider("slow", mocks.Step{Content: "late", Delay: 2 * time.Second, IgnoreContext: true})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := providers.Call(ctx, p, chatRequest("hi"))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, providers.ErrTimeout)
}

func TestCall_ParentCanceled(t *testing.T) {
	p := mocks.NewScriptedProvider("slow", mocks.Step{Content: "late", Delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := providers.Call(ctx, p, chatRequest("hi"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestCall_RecoversPanic(t *testing.T) {
	p := mocks.NewScriptedProvider("boom", mocks.Step{Panic: true})

	res := providers.Call(context.Background(), p, chatRequest("hi"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, providers.ErrAdapterPanic)
}

func TestCall_NilResult(t *testing.T) {
	p := mocks.NewScriptedProvider("nil", mocks.Step{Nil: true})

	res := providers.Call(context.Background(), p, chatRequest("hi"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, providers.ErrEmptyResponse)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, providers.ErrUnauthorized},
		{http.StatusForbidden, providers.ErrUnauthorized},
		{http.StatusTooManyRequests, providers.ErrRateLimited},
		{http.StatusRequestTimeout, providers.ErrTimeout},
		{http.StatusGatewayTimeout, providers.ErrTimeout},
		{http.StatusInternalServerError, providers.ErrUnavailable},
		{http.StatusServiceUnavailable, providers.ErrUnavailable},
		{http.StatusBadRequest, providers.ErrInvalidRequest},
		{http.StatusNotFound, providers.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := providers.ClassifyStatus(tt.status, "detail")
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "detail")
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	refused := &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
	reset := &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}}
	lookup := &url.Error{Op: "Post", URL: "http://nowhere.invalid", Err: &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}}}
	eof := &url.Error{Op: "Post", URL: "http://127.0.0.1:1", Err: io.ErrUnexpectedEOF}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, providers.ErrTimeout},
		{"canceled", context.Canceled, context.Canceled},
		{"connection refused", refused, providers.ErrUnreachable},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, providers.ErrUnreachable},
		{"dns behind url error", lookup, providers.ErrUnreachable},
		{"reset mid response", reset, providers.ErrUnavailable},
		{"unexpected eof", eof, providers.ErrUnavailable},
		{"other", errors.New("weird"), providers.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, providers.ClassifyTransport(tt.err), tt.want)
		})
	}
	assert.NoError(t, providers.ClassifyTransport(nil))
}

func TestIsUnreachableAndTransient(t *testing.T) {
	assert.True(t, providers.IsUnreachable(fmt.Errorf("x: %w", providers.ErrUnreachable)))
	assert.True(t, providers.IsUnreachable(providers.ErrUnauthorized))
	assert.True(t, providers.IsUnreachable(providers.ErrMissingAPIKey))
	assert.False(t, providers.IsUnreachable(providers.ErrTimeout))

	assert.True(t, providers.IsTransient(providers.ErrTimeout))
	assert.True(t, providers.IsTransient(providers.ErrRateLimited))
	assert.False(t, providers.IsTransient(providers.ErrInvalidRequest))
}

func TestWithRateLimit(t *testing.T) {
	p := mocks.NewScriptedProvider("limited")
	p.Always(mocks.Step{Content: "ok"})

	assert.Same(t, p, providers.WithRateLimit(p, 0, 0))

	limited := providers.WithRateLimit(p, 1, 1)
	assert.Equal(t, "limited", limited.Name())

	// il primo token è disponibile subito
	res := limited.Generate(context.Background(), chatRequest("one"))
	require.True(t, res.Success)

	// il secondo richiederebbe un secondo, oltre la deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res = limited.Generate(ctx, chatRequest("two"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, providers.ErrRateLimited)
	assert.Equal(t, 1, p.CallCount())
}

func TestChatRequest_SystemAndTurns(t *testing.T) {
	req := &providers.ChatRequest{Messages: []providers.Message{
		{Role: providers.RoleSystem, Content: "one"},
		{Role: providers.RoleUser, Content: "question"},
		{Role: providers.RoleSystem, Content: "two"},
		{Role: providers.RoleAssistant, Content: "answer"},
	}}

	assert.Equal(t, "one\n\ntwo", req.SystemPrompt())
	turns := req.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "question", turns[0].Content)
	assert.Equal(t, providers.RoleAssistant, turns[1].Role)
}

func TestEstimateUsage(t *testing.T) {
	assert.Equal(t, 0, providers.EstimateTokens(""))
	assert.Equal(t, 1, providers.EstimateTokens("abc"))
	assert.Equal(t, 25, providers.EstimateTokens(string(make([]byte, 100))))

	u := providers.EstimateUsage(chatRequest("12345678"), "abcdefghijkl")
	assert.Equal(t, 2+2, u.PromptTokens)
	assert.Equal(t, 3, u.CompletionTokens)
	assert.Equal(t, 7, u.TotalTokens)
	assert.False(t, u.IsZero())
	assert.True(t, providers.Usage{}.IsZero())
}

func TestSucceededComputesTotal(t *testing.T) {
	res := providers.Succeeded("x", "m", providers.Usage{PromptTokens: 3, CompletionTokens: 4})
	assert.Equal(t, 7, res.Usage.TotalTokens)
	assert.True(t, res.Success)
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, providers.KindAnthropic.Valid())
	assert.True(t, providers.KindCompat.Valid())
	assert.False(t, providers.Kind("soap").Valid())
}

func TestBaseProvider(t *testing.T) {
	b := providers.NewBaseProvider("x", "https://host/v1/", "key", "model-a")
	assert.Equal(t, "https://host/v1", b.GetBaseURL())
	assert.Equal(t, 60*time.Second, b.GetTimeout())

	b.SetTimeout(0)
	assert.Equal(t, 60*time.Second, b.GetTimeout())
	b.SetTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, b.GetTimeout())

	assert.Equal(t, "model-a", b.ModelFor(&providers.ChatRequest{}))
	assert.Equal(t, "model-b", b.ModelFor(&providers.ChatRequest{Model: "model-b"}))
}
