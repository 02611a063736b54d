package scripted_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/adapters/scripted"
	"github.com/yudai-dev/yudai/internal/domain"
)

func TestModel_ReturnsOutputsInOrder(t *testing.T) {
	m, err := scripted.New(scripted.Config{Outputs: []string{"```bash\necho 1\n```", "```bash\necho 2\n```"}}, nil, nil)
	require.NoError(t, err)

	r1, err := m.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	r2, err := m.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo 1", r1.Actions[0].Command)
	assert.Equal(t, "echo 2", r2.Actions[0].Command)
	assert.Equal(t, 1.0, r1.Cost)

	cost, n := m.Stats()
	assert.Equal(t, 2.0, cost)
	assert.Equal(t, 2, n)

	_, err = m.Query(context.Background(), nil, nil)
	assert.ErrorIs(t, err, scripted.ErrExhausted)
}

func TestModel_BudgetMonotonicity(t *testing.T) {
	outputs := make([]string, 5)
	for i := range outputs {
		outputs[i] = "```bash\nls\n```"
	}
	tracker := domain.NewTracker()
	m, err := scripted.New(scripted.Config{Outputs: outputs, CostPerCall: 0.25}, tracker, nil)
	require.NoError(t, err)
	for range outputs {
		_, err := m.Query(context.Background(), nil, nil)
		require.NoError(t, err)
	}
	cost, n := m.Stats()
	assert.InDelta(t, 1.25, cost, 1e-9)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, tracker.Calls())
}

func TestModel_FormatErrorCountsCall(t *testing.T) {
	m, err := scripted.New(scripted.Config{Outputs: []string{"no action here"}}, nil, nil)
	require.NoError(t, err)

	resp, err := m.Query(context.Background(), nil, nil)
	var fe *domain.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1.0, fe.Cost)
	assert.Equal(t, "no action here", resp.Content)
	_, n := m.Stats()
	assert.Equal(t, 1, n)
}

func TestModel_Directives(t *testing.T) {
	m, err := scripted.New(scripted.Config{Outputs: []string{"/sleep0.01", "/warning careful", "```bash\nls\n```"}}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	resp, err := m.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, "ls", resp.Actions[0].Command)
	_, n := m.Stats()
	assert.Equal(t, 1, n)
}

func TestModel_SleepHonorsCancel(t *testing.T) {
	m, err := scripted.New(scripted.Config{Outputs: []string{"/sleep10"}}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Query(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModel_ToolCallMode(t *testing.T) {
	m, err := scripted.New(scripted.Config{Outputs: []string{"```bash\npwd\n```"}, ToolCalls: true}, nil, nil)
	require.NoError(t, err)

	resp, err := m.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, resp.ToolCalls[0].ID, resp.Actions[0].ToolCallID)

	msg := &domain.Message{Actions: resp.Actions}
	obs, err := m.FormatObservationMessages([]domain.Observation{{Output: "/tmp\n"}}, msg)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, domain.RoleTool, obs[0].Role)
	assert.Equal(t, resp.Actions[0].ToolCallID, obs[0].ToolCallID)
}
