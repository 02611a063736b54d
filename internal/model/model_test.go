package model_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

func ptr(f float64) *float64 { return &f }

func fastPolicy(attempts int) model.RetryPolicy {
	return model.RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestComputeCost(t *testing.T) {
	cost, err := model.ComputeCost("m", model.CostTrackingDefault, model.Pricing{}, &model.Usage{Cost: ptr(0.25)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.25, cost)

	pricing := model.Pricing{InputPerMillion: 2, OutputPerMillion: 10}
	cost, err = model.ComputeCost("m", model.CostTrackingDefault, pricing, &model.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, cost, 1e-9)

	cost, err = model.ComputeCost("m", model.CostTrackingDefault, pricing, &model.Usage{InputTokens: 500_000}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)
}

func TestComputeCost_Undetermined(t *testing.T) {
	for name, u := range map[string]*model.Usage{
		"nil usage": nil,
		"zero cost": {Cost: ptr(0)},
		"negative":  {Cost: ptr(-1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := model.ComputeCost("m", model.CostTrackingDefault, model.Pricing{}, u, nil)
			var costErr *model.CostError
			require.True(t, errors.As(err, &costErr))
			assert.Equal(t, "m", costErr.Model)

			cost, err := model.ComputeCost("m", model.CostTrackingIgnoreErrors, model.Pricing{}, u, nil)
			require.NoError(t, err)
			assert.Zero(t, cost)
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		kind      model.ErrorKind
		permanent bool
	}{
		{401, "bad key", model.KindAuthentication, true},
		{403, "", model.KindPermissionDenied, true},
		{404, "no such model", model.KindNotFound, true},
		{429, "slow down", model.KindRateLimit, false},
		{400, `{"error":{"code":"context_length_exceeded"}}`, model.KindContextWindow, true},
		{400, "parameter temperature not supported", model.KindUnsupportedParams, true},
		{400, "weird", model.KindUnknown, false},
		{503, "overloaded", model.KindServer, false},
	}
	for _, tc := range cases {
		e := model.ClassifyStatus(tc.status, tc.body)
		assert.Equal(t, tc.kind, e.Kind, "status %d", tc.status)
		assert.Equal(t, tc.permanent, e.Permanent(), "status %d", tc.status)
		assert.Equal(t, !tc.permanent, model.Retryable(fmt.Errorf("wrapped: %w", e)), "status %d", tc.status)
	}
}

func TestRetryable_Signals(t *testing.T) {
	assert.False(t, model.Retryable(&domain.UserInterruption{}))
	assert.False(t, model.Retryable(&model.CostError{}))
	assert.False(t, model.Retryable(context.Canceled))
	assert.True(t, model.Retryable(errors.New("connection reset")))
	assert.False(t, model.Retryable(nil))
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	v, err := model.Do(context.Background(), fastPolicy(5), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &model.APIError{Kind: model.KindRateLimit, StatusCode: 429}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := model.Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, &model.APIError{Kind: model.KindAuthentication, StatusCode: 401}
	})
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.KindAuthentication, apiErr.Kind)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "APIError", domain.ExitStatusOf(err))
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	_, err := model.Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, &model.APIError{Kind: model.KindServer, StatusCode: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_MaxElapsedStopsRetrying(t *testing.T) {
	p := model.RetryPolicy{
		MaxAttempts:     100,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxElapsed:      50 * time.Millisecond,
	}
	calls := 0
	_, err := model.Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, &model.APIError{Kind: model.KindServer, StatusCode: 500}
	})
	require.Error(t, err)
	assert.Less(t, calls, 10)
}

func TestDo_ZeroMaxElapsedKeepsAllAttempts(t *testing.T) {
	calls := 0
	_, err := model.Do(context.Background(), fastPolicy(6), func(context.Context) (int, error) {
		calls++
		return 0, &model.APIError{Kind: model.KindServer, StatusCode: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 6, calls)
}

func TestBase_RecordUpdatesLocalAndGlobal(t *testing.T) {
	global := domain.NewTracker()
	a, err := model.NewBase(model.Config{ModelName: "a"}, global, nil)
	require.NoError(t, err)
	b, err := model.NewBase(model.Config{ModelName: "b"}, global, nil)
	require.NoError(t, err)

	a.Record(1)
	a.Record(1)
	b.Record(0.5)

	cost, calls := a.Stats()
	assert.Equal(t, 2.0, cost)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, global.Calls())
	assert.Equal(t, 2.5, global.Cost())

	vars := a.TemplateVars()
	assert.Equal(t, 2, vars["n_model_calls"])
	assert.Equal(t, 2.0, vars["model_cost"])
	assert.Equal(t, "a", vars["model_name"])
}

func TestNewBase_RejectsBadRegex(t *testing.T) {
	_, err := model.NewBase(model.Config{MultimodalRegex: "("}, nil, nil)
	require.Error(t, err)
	_, err = model.NewBase(model.Config{ActionRegex: "no groups"}, nil, nil)
	require.Error(t, err)
}

func TestBase_FormatMessageExpandsImages(t *testing.T) {
	b, err := model.NewBase(model.Config{MultimodalRegex: `!\[\]\((?P<url>[^)]+)\)`}, nil, nil)
	require.NoError(t, err)
	msg := b.FormatMessage(domain.RoleUser, "look ![](http://x/a.png)")
	require.Len(t, msg.Content.Parts, 2)
	assert.Equal(t, "http://x/a.png", msg.Content.Parts[1].ImageURL.URL)
}
