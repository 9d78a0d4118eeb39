package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/internal/stats"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGateway struct {
	gw       *Gateway
	registry *router.Registry
	locker   *conversation.MemoryLocker
	metrics  *stats.Metrics
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8089},
		Orchestration: config.OrchestrationConfig{
			DefaultPipeline: agents.PipelineCore,
		},
		Monitoring: config.MonitoringConfig{
			Prometheus: config.PrometheusConfig{Enabled: true, Namespace: "gwtest"},
		},
	}
}

func newTestGateway(t *testing.T, cfg *config.Config, ps ...*mocks.ScriptedProvider) *testGateway {
	t.Helper()

	reg := router.NewRegistry()
	for i, p := range ps {
		require.NoError(t, reg.Register(router.Descriptor{
			Name:     p.Name(),
			Kind:     providers.KindCompat,
			Priority: i + 1,
		}, p))
	}

	m := stats.NewMetrics(cfg.Monitoring.Prometheus.Namespace)
	execCfg := executor.DefaultConfig()
	execCfg.BackoffStep = time.Millisecond
	execCfg.AttemptTimeout = 200 * time.Millisecond
	execCfg.MaxAttempts = 2
	exec := executor.New(router.New(config.RoutingConfig{Strategy: router.StrategyPriority}, reg), execCfg,
		executor.WithRecorder(m))

	locker := conversation.NewMemoryLocker()
	mgr := conversation.NewManager(database.NewMemoryStore(), exec, conversation.WithLocker(locker))

	gw, err := New(cfg, Deps{Manager: mgr, Registry: reg, Metrics: m.Handler()})
	require.NoError(t, err)

	return &testGateway{gw: gw, registry: reg, locker: locker, metrics: m}
}

func (tg *testGateway) do(t *testing.T, method, path string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := tg.gw.App().Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (tg *testGateway) create(t *testing.T, roles ...string) string {
	t.Helper()
	resp, body := tg.do(t, http.MethodPost, "/v1/conversations", CreateConversationRequest{
		Input:  "Plan a product launch",
		Agents: roles,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["id"].(string)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)

	mgr := conversation.NewManager(database.NewMemoryStore(), nil)
	_, err = New(testConfig(), Deps{Manager: mgr})
	assert.Error(t, err)
}

func TestGateway_Routes(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))

	routes := make(map[string]bool)
	for _, r := range tg.gw.App().GetRoutes(true) {
		routes[r.Method+" "+r.Path] = true
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /v1/conversations",
		"GET /v1/conversations/:id",
		"POST /v1/conversations/:id/advance",
		"POST /v1/conversations/:id/run",
		"GET /v1/conversations/:id/history",
		"GET /v1/backends",
		"POST /v1/backends/probe",
	}
	for _, r := range expected {
		assert.True(t, routes[r], "missing route %s", r)
	}
}

func TestGateway_CreateAndGet(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))

	resp, body := tg.do(t, http.MethodPost, "/v1/conversations", CreateConversationRequest{
		Input:      "Plan a product launch",
		Agents:     []string{"analyst", "writer"},
		SessionRef: "s-42",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "/v1/conversations/"+id, resp.Header.Get("Location"))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "analyst", body["next_agent"])
	assert.Equal(t, []interface{}{"analyst", "writer"}, body["agent_list"])

	resp, body = tg.do(t, http.MethodGet, "/v1/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s-42", body["session_ref"])
	assert.EqualValues(t, 0, body["current_step"])
}

func TestGateway_CreateValidation(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))

	tests := []struct {
		name string
		req  CreateConversationRequest
	}{
		{"empty input", CreateConversationRequest{Input: "  ", Agents: []string{"analyst"}}},
		{"no agents", CreateConversationRequest{Input: "hello"}},
		{"unknown agent", CreateConversationRequest{Input: "hello", Agents: []string{"astronaut"}}},
		{"unknown pipeline", CreateConversationRequest{Input: "hello", Pipeline: "galactic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := tg.do(t, http.MethodPost, "/v1/conversations", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/conversations", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := tg.gw.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGateway_NotFoundAndBadID(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))

	resp, _ := tg.do(t, http.MethodGet, "/v1/conversations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodGet, "/v1/conversations/"+uuid.NewString()+"/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodGet, "/v1/conversations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_AdvanceUntilComplete(t *testing.T) {
	p := mocks.NewScriptedProvider("a",
		mocks.Step{Content: mocks.HandoffResponse("Market analysis", "what should we write?")},
		mocks.Step{Content: mocks.LongText("Final launch copy")},
	)
	tg := newTestGateway(t, testConfig(), p)
	id := tg.create(t, "analyst", "writer")

	resp, body := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	step := body["step"].(map[string]interface{})
	assert.Equal(t, "analyst", step["agent_role"])
	assert.Equal(t, "what should we write?", step["handoff_text"])
	conv := body["conversation"].(map[string]interface{})
	assert.Equal(t, "writer", conv["next_agent"])

	resp, body = tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", AdvanceRequest{Priority: "high"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "completed", body["conversation"].(map[string]interface{})["status"])

	resp, _ = tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = tg.do(t, http.MethodGet, "/v1/conversations/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])
}

func TestGateway_AdvanceOptionsValidation(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))
	id := tg.create(t, "analyst")

	resp, _ := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", AdvanceRequest{Priority: "urgent"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", AdvanceRequest{Backend: "ghost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_AdvanceBusy(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))
	id := tg.create(t, "analyst")

	unlock, ok, err := tg.locker.TryLock(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	resp, _ := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestGateway_StepExecutionFailure(t *testing.T) {
	p := mocks.NewScriptedProvider("a").Always(mocks.Step{Err: providers.ErrUnavailable})
	tg := newTestGateway(t, testConfig(), p)
	id := tg.create(t, "analyst", "writer")

	resp, body := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "analyst")

	resp, body = tg.do(t, http.MethodGet, "/v1/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])

	resp, _ = tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGateway_Run(t *testing.T) {
	p := mocks.NewScriptedProvider("a",
		mocks.Step{Content: mocks.HandoffResponse("Analysis", "next?"), Usage: providers.Usage{PromptTokens: 30, CompletionTokens: 10}},
		mocks.Step{Content: mocks.LongText("Final"), Usage: providers.Usage{PromptTokens: 20, CompletionTokens: 20}},
	)
	tg := newTestGateway(t, testConfig(), p)
	id := tg.create(t, "analyst", "writer")

	resp, body := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 2, body["steps"])
	assert.EqualValues(t, 80, body["total_tokens"])
	assert.Len(t, body["outputs"], 2)

	resp, body = tg.do(t, http.MethodGet, "/v1/conversations/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
}

func TestGateway_RunFailureIncludesSummary(t *testing.T) {
	p := mocks.NewScriptedProvider("a",
		mocks.Step{Content: mocks.HandoffResponse("Analysis", "next?")},
	).Always(mocks.Step{Err: providers.ErrTimeout})
	tg := newTestGateway(t, testConfig(), p)
	id := tg.create(t, "analyst", "writer")

	resp, body := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/run", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, "failed", summary["status"])
	assert.EqualValues(t, 1, summary["steps"])
	assert.EqualValues(t, 1, summary["error_count"])
}

func TestGateway_ListConversations(t *testing.T) {
	tg := newTestGateway(t, testConfig(), mocks.NewScriptedProvider("a"))
	tg.create(t, "analyst")
	tg.create(t, "writer")

	resp, body := tg.do(t, http.MethodGet, "/v1/conversations?status=running&limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, body = tg.do(t, http.MethodGet, "/v1/conversations?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])

	resp, _ = tg.do(t, http.MethodGet, "/v1/conversations?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodGet, "/v1/conversations?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_Backends(t *testing.T) {
	a := mocks.NewScriptedProvider("a")
	b := mocks.NewScriptedProvider("b")
	tg := newTestGateway(t, testConfig(), a, b)

	resp, body := tg.do(t, http.MethodGet, "/v1/backends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["backends"], 2)
	assert.Equal(t, []interface{}{"a", "b"}, body["live"])

	b.SetHealthError(fmt.Errorf("%w: connection refused", providers.ErrUnreachable))
	resp, body = tg.do(t, http.MethodPost, "/v1/backends/probe", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"a"}, body["live"])
	failures := body["failures"].(map[string]interface{})
	assert.Contains(t, failures["b"], "connection refused")
}

func TestGateway_HealthAndReady(t *testing.T) {
	a := mocks.NewScriptedProvider("a")
	tg := newTestGateway(t, testConfig(), a)

	resp, body := tg.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = tg.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ready"])

	tg.registry.MarkUnreachable("a", providers.ErrUnreachable)
	resp, body = tg.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "no live backends", body["error"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestGateway_ReadyChecksStore(t *testing.T) {
	cfg := testConfig()
	reg := router.NewRegistry()
	require.NoError(t, reg.Register(router.Descriptor{Name: "a", Kind: providers.KindCompat, Priority: 1}, mocks.NewScriptedProvider("a")))
	mgr := conversation.NewManager(database.NewMemoryStore(), nil)

	gw, err := New(cfg, Deps{Manager: mgr, Registry: reg, Store: failingPinger{}})
	require.NoError(t, err)

	resp, err := gw.App().Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_Metrics(t *testing.T) {
	p := mocks.NewScriptedProvider("a", mocks.Step{Content: mocks.LongText("Only answer")})
	tg := newTestGateway(t, testConfig(), p)
	id := tg.create(t, "analyst")

	resp, _ := tg.do(t, http.MethodPost, "/v1/conversations/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := tg.gw.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `gwtest_step_attempts_total{agent="analyst",backend="a",result="success"} 1`)
}

func TestGateway_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.Prometheus.Enabled = false
	tg := newTestGateway(t, cfg, mocks.NewScriptedProvider("a"))

	resp, _ := tg.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_APIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKeys = []string{"secret-key"}
	tg := newTestGateway(t, cfg, mocks.NewScriptedProvider("a"))

	resp, _ := tg.do(t, http.MethodGet, "/v1/backends", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodGet, "/v1/backends", nil, "Authorization", "Bearer secret-key")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// /health resta pubblico
	resp, _ = tg.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	stepErr := &executor.StepExecutionError{Role: agents.RoleAnalyst, Attempts: 3, LastBackend: "a", Cause: providers.ErrTimeout}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: empty", conversation.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("lookup: %w", conversation.ErrNotFound), http.StatusNotFound},
		{"complete", conversation.ErrAlreadyComplete, http.StatusConflict},
		{"failed", conversation.ErrAlreadyFailed, http.StatusConflict},
		{"busy", conversation.ErrConversationBusy, http.StatusLocked},
		{"step execution", fmt.Errorf("advance: %w", stepErr), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, code)
		})
	}
}
