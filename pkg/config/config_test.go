package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "affinity", cfg.Routing.Strategy)
	assert.Equal(t, 3, cfg.Orchestration.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Orchestration.AttemptTimeout)
	assert.Equal(t, 2*time.Second, cfg.Orchestration.BackoffStep)
	assert.Equal(t, 50, cfg.Orchestration.MinResponseLength)
	assert.Equal(t, 3, cfg.Orchestration.ContextWindow)
	assert.Equal(t, 5000, cfg.Orchestration.MaxInputLength)
	assert.Equal(t, "NEXT AGENT QUESTION:", cfg.Orchestration.HandoffMarker)
	assert.Len(t, cfg.Backends, 3)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9191
orchestration:
  max_attempts: 5
  attempt_timeout: 3s
backends:
  - name: local
    kind: compat
    model: llama3
    base_url: http://localhost:11434/v1
    priority: 1
    throughput: 0.5
    affinity:
      technical: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Orchestration.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Orchestration.AttemptTimeout)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "local", cfg.Backends[0].Name)
	assert.InDelta(t, 0.8, cfg.Backends[0].Affinity["technical"], 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OPERATOROS_ORCHESTRATION_MAX_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestration.MaxAttempts)
}

func TestBackendConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_OPERATOROS_KEY", "from-env")

	assert.Equal(t, "explicit", BackendConfig{APIKey: "explicit", APIKeyEnv: "TEST_OPERATOROS_KEY"}.ResolveAPIKey())
	assert.Equal(t, "from-env", BackendConfig{APIKeyEnv: "TEST_OPERATOROS_KEY"}.ResolveAPIKey())
	assert.Empty(t, BackendConfig{}.ResolveAPIKey())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "bad database", mutate: func(c *Config) { c.Database.Type = "mongo" }, wantErr: true},
		{name: "bad strategy", mutate: func(c *Config) { c.Routing.Strategy = "random" }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Orchestration.MaxAttempts = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Orchestration.AttemptTimeout = 0 }, wantErr: true},
		{name: "empty marker", mutate: func(c *Config) { c.Orchestration.HandoffMarker = "  " }, wantErr: true},
		{name: "bad lock backend", mutate: func(c *Config) { c.Orchestration.LockBackend = "etcd" }, wantErr: true},
		{name: "no backends", mutate: func(c *Config) { c.Backends = nil }, wantErr: true},
		{
			name: "duplicate backend",
			mutate: func(c *Config) {
				c.Backends = append(c.Backends, c.Backends[0])
			},
			wantErr: true,
		},
		{name: "unknown kind", mutate: func(c *Config) { c.Backends[0].Kind = "cohere" }, wantErr: true},
		{
			name: "compat without base url",
			mutate: func(c *Config) {
				c.Backends[2].BaseURL = ""
			},
			wantErr: true,
		},
		{
			name: "affinity out of range",
			mutate: func(c *Config) {
				c.Backends[0].Affinity["financial"] = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
