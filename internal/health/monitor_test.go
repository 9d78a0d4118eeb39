package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/biodoia/operatoros/internal/router"
	"github.com/biodoia/operatoros/tests/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, ps ...*mocks.ScriptedProvider) *router.Registry {
	t.Helper()
	reg := router.NewRegistry()
	for i, p := range ps {
		require.NoError(t, reg.Register(router.Descriptor{Name: p.Name(), Priority: i + 1}, p))
	}
	return reg
}

func TestMonitor_RunOnceRestoresRecoveredBackends(t *testing.T) {
	a := mocks.NewScriptedProvider("a")
	b := mocks.NewScriptedProvider("b")
	b.SetHealthError(errors.New("connection refused"))
	reg := newRegistry(t, a, b)

	reg.MarkUnreachable("a", errors.New("boom"))
	reg.MarkUnreachable("b", errors.New("boom"))

	m := NewMonitor(reg, time.Hour)
	results := m.RunOnce(context.Background())

	require.Len(t, results, 1)
	assert.Error(t, results["b"])
	assert.Equal(t, []string{"a"}, reg.LiveNames())
	assert.False(t, m.LastRun().IsZero())

	// i backend live non vengono riverificati
	assert.Equal(t, 1, a.ProbeCount())
}

func TestMonitor_StartStop(t *testing.T) {
	a := mocks.NewScriptedProvider("a")
	reg := newRegistry(t, a)
	reg.MarkUnreachable("a", errors.New("boom"))

	m := NewMonitor(reg, 10*time.Millisecond)
	m.Start(context.Background())
	m.Start(context.Background())

	require.Eventually(t, func() bool { return reg.IsLive("a") }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestMonitor_StopsWithParentContext(t *testing.T) {
	reg := newRegistry(t, mocks.NewScriptedProvider("a"))
	m := NewMonitor(reg, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_Ready(t *testing.T) {
	reg := newRegistry(t, mocks.NewScriptedProvider("a"))
	m := NewMonitor(reg, 0)
	assert.Equal(t, 5*time.Minute, m.interval)
	assert.True(t, m.Ready())

	reg.MarkUnreachable("a", nil)
	assert.False(t, m.Ready())
}
