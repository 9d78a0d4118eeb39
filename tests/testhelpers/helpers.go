package testhelpers

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/pkg/config"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/tests/mocks"
	"github.com/stretchr/testify/require"
)

// TestDB creates a migrated SQLite database in a temporary directory.
// Passing the same path again reopens the existing data.
func TestDB(t *testing.T, path string) *database.DB {
	t.Helper()

	if path == "" {
		path = DBPath(t)
	}
	db, err := database.New(&database.Config{
		Type:       "sqlite",
		Connection: path,
		MaxConns:   1,
		LogLevel:   "silent",
	})
	require.NoError(t, err, "failed to open test database")
	require.NoError(t, db.AutoMigrate(), "failed to run migrations")

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// DBPath returns a fresh database file path under t.TempDir()
func DBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "operatoros.db")
}

// TestRegistry registers the providers in priority order
func TestRegistry(t *testing.T, ps ...*mocks.ScriptedProvider) *router.Registry {
	t.Helper()

	reg := router.NewRegistry()
	for i, p := range ps {
		require.NoError(t, reg.Register(router.Descriptor{
			Name:     p.Name(),
			Kind:     providers.KindCompat,
			Model:    "mock-" + p.Name(),
			Priority: i + 1,
			Pricing:  router.Pricing{InputPer1K: 0.001, OutputPer1K: 0.002},
		}, p))
	}
	return reg
}

// FastExecutorConfig is the executor configuration with millisecond backoff
func FastExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.BackoffStep = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.AttemptTimeout = 500 * time.Millisecond
	return cfg
}

// TestManager wires a manager on top of store and registry using priority routing
func TestManager(t *testing.T, store conversation.Store, reg *router.Registry, opts ...conversation.Option) *conversation.Manager {
	t.Helper()

	r := router.New(config.RoutingConfig{Strategy: router.StrategyPriority}, reg)
	exec := executor.New(r, FastExecutorConfig())
	return conversation.NewManager(store, exec, opts...)
}

// WaitForCondition polls condition until it holds or timeout expires
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	require.Eventually(t, condition, timeout, 10*time.Millisecond, message)
}
