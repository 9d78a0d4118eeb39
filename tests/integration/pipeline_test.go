package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/conversation"
	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/providers"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/biodoia/operatoros/tests/mocks"
	"github.com/biodoia/operatoros/tests/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usage = providers.Usage{PromptTokens: 40, CompletionTokens: 60, TotalTokens: 100}

func ok(text string) mocks.Step {
	return mocks.Step{Content: mocks.HandoffResponse(text, "What comes next?"), Usage: usage}
}

func TestPipeline_FailoverToSecondary(t *testing.T) {
	ctx := context.Background()
	db := testhelpers.TestDB(t, "")

	primary := mocks.NewScriptedProvider("primary", mocks.Step{
		Err: fmt.Errorf("%w: connection refused", providers.ErrUnreachable),
	})
	secondary := mocks.NewScriptedProvider("secondary").Always(ok("Secondary answer"))
	reg := testhelpers.TestRegistry(t, primary, secondary)
	mgr := testhelpers.TestManager(t, db, reg)

	conv, err := mgr.Create(ctx, conversation.CreateRequest{
		Input:    "Plan the launch of an analytics product",
		Pipeline: agents.PipelineCore,
	})
	require.NoError(t, err)

	summary, err := mgr.RunToCompletion(ctx, conv.ID)
	require.NoError(t, err)

	roles, err := agents.Pipeline(agents.PipelineCore)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, summary.Status)
	assert.Equal(t, len(roles), summary.Steps)
	assert.Equal(t, len(roles)*usage.TotalTokens, summary.TotalTokens)
	assert.Greater(t, summary.EstimatedCost, 0.0)

	assert.False(t, reg.IsLive("primary"), "unreachable backend must leave the live set")
	assert.Equal(t, 1, primary.CallCount())
	assert.Equal(t, len(roles), secondary.CallCount())

	steps, err := mgr.History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, steps, len(roles))
	for i, s := range steps {
		assert.Equal(t, i+1, s.Sequence)
		assert.Equal(t, i, s.StepIndex)
		assert.Equal(t, string(roles[i]), s.AgentRole)
		assert.Equal(t, "secondary", s.Backend)
		assert.False(t, s.IsError)
	}
	assert.Equal(t, 2, steps[0].Attempts)
}

func TestPipeline_ResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := testhelpers.DBPath(t)

	first := testhelpers.TestDB(t, path)
	p := mocks.NewScriptedProvider("solo").Always(ok("Persistent answer"))
	mgr := testhelpers.TestManager(t, first, testhelpers.TestRegistry(t, p))

	conv, err := mgr.Create(ctx, conversation.CreateRequest{
		Input:  "Draft a hiring plan",
		Agents: []string{"analyst", "cfo", "writer"},
	})
	require.NoError(t, err)

	_, err = mgr.Advance(ctx, conv.ID, conversation.AdvanceOptions{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := testhelpers.TestDB(t, path)
	mgr = testhelpers.TestManager(t, second, testhelpers.TestRegistry(t, p))

	got, err := mgr.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, models.StatusRunning, got.Status)

	summary, err := mgr.RunToCompletion(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.Steps)

	steps, err := mgr.History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{steps[0].Sequence, steps[1].Sequence, steps[2].Sequence})

	_, err = mgr.Advance(ctx, conv.ID, conversation.AdvanceOptions{})
	assert.ErrorIs(t, err, conversation.ErrAlreadyComplete)
}

func TestPipeline_FailureIsPersisted(t *testing.T) {
	ctx := context.Background()
	path := testhelpers.DBPath(t)
	db := testhelpers.TestDB(t, path)

	p := mocks.NewScriptedProvider("flaky", ok("Analyst answer")).
		Always(mocks.Step{Err: providers.ErrRateLimited})
	mgr := testhelpers.TestManager(t, db, testhelpers.TestRegistry(t, p))

	conv, err := mgr.Create(ctx, conversation.CreateRequest{
		Input:  "Estimate the budget",
		Agents: []string{"analyst", "cfo"},
	})
	require.NoError(t, err)

	summary, err := mgr.RunToCompletion(ctx, conv.ID)
	require.Error(t, err)

	var stepErr *executor.StepExecutionError
	require.True(t, errors.As(err, &stepErr), "got %v", err)
	assert.Equal(t, agents.Role("cfo"), stepErr.Role)
	assert.Equal(t, testhelpers.FastExecutorConfig().MaxAttempts, stepErr.Attempts)

	require.NotNil(t, summary)
	assert.Equal(t, models.StatusFailed, summary.Status)
	assert.Equal(t, 1, summary.Steps)

	reopened := testhelpers.TestDB(t, path)
	stored, err := reopened.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.ErrorCount)

	steps, err := reopened.ListSteps(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.True(t, steps[1].IsError)
	require.NotNil(t, steps[1].ErrorDetail)
	assert.Contains(t, *steps[1].ErrorDetail, "rate limited")
}
