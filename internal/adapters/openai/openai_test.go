package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yudai-dev/yudai/internal/adapters/openai"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

type recorder struct {
	mu       sync.Mutex
	requests []map[string]any
	auth     []string
}

func (r *recorder) record(t *testing.T, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	r.mu.Lock()
	r.requests = append(r.requests, decoded)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	r.mu.Unlock()
}

// serve replies with the given bodies in order, repeating the last one.
func serve(t *testing.T, rec *recorder, statuses []int, bodies ...string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.record(t, req)
		mu.Lock()
		idx := min(i, len(bodies)-1)
		i++
		mu.Unlock()
		status := http.StatusOK
		if idx < len(statuses) {
			status = statuses[idx]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, bodies[idx])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func options(tracker *domain.Tracker) openai.Options {
	return openai.Options{
		APIKey:  "sk-test",
		Tracker: tracker,
		Retry: model.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	}
}

func chatBody(content string, toolCalls string, cost float64) string {
	c, _ := json.Marshal(content)
	if toolCalls == "" {
		toolCalls = "null"
	}
	return `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":` + string(c) +
		`,"tool_calls":` + toolCalls + `}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"cost":` +
		strconvF(cost) + `}}`
}

func strconvF(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func history() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: domain.TextContent("sys"), Actions: []domain.Action{{Command: "x"}}, Timestamp: time.Now()},
		{Role: domain.RoleUser, Content: domain.TextContent("task")},
	}
}

func TestChatModel_ToolCallSuccess(t *testing.T) {
	rec := &recorder{}
	calls := `[{"id":"call_1","type":"function","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]`
	srv := serve(t, rec, nil, chatBody("", calls, 0.01))

	tracker := domain.NewTracker()
	m, err := openai.NewChatModel(model.Config{ModelName: "test/model", BaseURL: srv.URL}, openai.ModeToolCall, options(tracker))
	require.NoError(t, err)

	resp, err := m.Query(context.Background(), history(), nil)
	require.NoError(t, err)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "ls", resp.Actions[0].Command)
	assert.Equal(t, "call_1", resp.Actions[0].ToolCallID)
	assert.Equal(t, 0.01, resp.Cost)

	cost, n := m.Stats()
	assert.Equal(t, 0.01, cost)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tracker.Calls())

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, "Bearer sk-test", rec.auth[0])
	assert.Equal(t, "test/model", req["model"])
	tools := req["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "bash", tools[0].(map[string]any)["function"].(map[string]any)["name"])
	msgs := req["messages"].([]any)
	first := msgs[0].(map[string]any)
	assert.NotContains(t, first, "actions")
	assert.NotContains(t, first, "timestamp")
}

func TestChatModel_FormatErrorStillCounted(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, nil, chatBody("I think we are done", "", 0.02))
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeToolCall, options(nil))
	require.NoError(t, err)

	resp, err := m.Query(context.Background(), history(), nil)
	var fe *domain.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0.02, fe.Cost)
	require.NotNil(t, fe.Response)
	assert.Equal(t, "I think we are done", fe.Response.Content)
	assert.Equal(t, "I think we are done", resp.Content)
	assert.Contains(t, fe.Message, "No tool calls found.")

	cost, n := m.Stats()
	assert.Equal(t, 0.02, cost)
	assert.Equal(t, 1, n)
}

func TestChatModel_MultipleToolCallsRejected(t *testing.T) {
	rec := &recorder{}
	calls := `[{"id":"call_1","type":"function","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}},` +
		`{"id":"call_2","type":"function","function":{"name":"bash","arguments":"{\"command\":\"pwd\"}"}}]`
	srv := serve(t, rec, nil, chatBody("", calls, 0.03))
	tracker := domain.NewTracker()
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeToolCall, options(tracker))
	require.NoError(t, err)

	_, err = m.Query(context.Background(), history(), nil)
	var fe *domain.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Message, "Expected exactly one tool call, found 2.")
	assert.Contains(t, fe.Message, "found 2 actions")
	assert.Equal(t, 0.03, fe.Cost)

	cost, n := m.Stats()
	assert.Equal(t, 0.03, cost)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tracker.Calls())
}

func TestChatModel_TextMode(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, nil, chatBody("Sure.\n```bash\necho hi\n```", "", 0.5))
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeText, options(nil))
	require.NoError(t, err)

	resp, err := m.Query(context.Background(), history(), nil)
	require.NoError(t, err)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "echo hi", resp.Actions[0].Command)
	assert.NotContains(t, rec.requests[0], "tools")

	obs, err := m.FormatObservationMessages([]domain.Observation{{Output: "hi\n"}}, nil)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, domain.RoleUser, obs[0].Role)
}

func TestChatModel_RetriesRateLimit(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, []int{429, 200}, `{"error":{"message":"slow"}}`, chatBody("```bash\nls\n```", "", 1))
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeText, options(nil))
	require.NoError(t, err)

	_, err = m.Query(context.Background(), history(), nil)
	require.NoError(t, err)
	assert.Len(t, rec.requests, 2)
	_, n := m.Stats()
	assert.Equal(t, 1, n)
}

func TestChatModel_AuthFailureNotRetried(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, []int{401}, `{"error":{"message":"bad key"}}`)
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeText, options(nil))
	require.NoError(t, err)

	_, err = m.Query(context.Background(), history(), nil)
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.KindAuthentication, apiErr.Kind)
	assert.Len(t, rec.requests, 1)
	_, n := m.Stats()
	assert.Zero(t, n)
}

func TestChatModel_InBodyErrorIsRetriedThenSurfaced(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, nil, `{"error":{"message":"upstream failed","code":502}}`)
	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeText, options(nil))
	require.NoError(t, err)

	_, err = m.Query(context.Background(), history(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream failed")
	assert.Len(t, rec.requests, 3)
}

func TestChatModel_MissingCost(t *testing.T) {
	rec := &recorder{}
	body := `{"choices":[{"message":{"content":"` + "```bash\\nls\\n```" + `"}}],"usage":{"prompt_tokens":3}}`
	srv := serve(t, rec, nil, body)

	m, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL}, openai.ModeText, options(nil))
	require.NoError(t, err)
	_, err = m.Query(context.Background(), history(), nil)
	var costErr *model.CostError
	require.True(t, errors.As(err, &costErr))
	assert.Equal(t, "CostError", domain.ExitStatusOf(err))

	free, err := openai.NewChatModel(model.Config{ModelName: "m", BaseURL: srv.URL, CostTracking: model.CostTrackingIgnoreErrors}, openai.ModeText, options(nil))
	require.NoError(t, err)
	resp, err := free.Query(context.Background(), history(), nil)
	require.NoError(t, err)
	assert.Zero(t, resp.Cost)
	_, n := free.Stats()
	assert.Equal(t, 1, n)
}

func TestChatModel_ModelKwargsMerged(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, nil, chatBody("```bash\nls\n```", "", 1))
	cfg := model.Config{ModelName: "m", BaseURL: srv.URL, ModelKwargs: map[string]any{"temperature": 0.0, "max_tokens": 100}}
	m, err := openai.NewChatModel(cfg, openai.ModeText, options(nil))
	require.NoError(t, err)

	_, err = m.Query(context.Background(), history(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.requests[0]["temperature"])
	assert.Equal(t, 100.0, rec.requests[0]["max_tokens"])
}

func TestResponsesModel_ChainsPreviousResponseID(t *testing.T) {
	rec := &recorder{}
	srv := serve(t, rec, nil,
		`{"id":"resp_1","output_text":"`+"```bash\\nls\\n```"+`","usage":{"input_tokens":1,"output_tokens":1,"cost":0.1}}`,
		`{"id":"resp_2","output":[{"type":"message","content":[{"type":"output_text","text":"`+"```bash\\npwd\\n```"+`"}]}],"usage":{"cost":0.1}}`,
	)
	m, err := openai.NewResponsesModel(model.Config{ModelName: "m", BaseURL: srv.URL}, options(nil))
	require.NoError(t, err)

	msgs := history()
	resp, err := m.Query(context.Background(), msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "ls", resp.Actions[0].Command)
	assert.Equal(t, "resp_1", m.PreviousResponseID())

	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: domain.TextContent("next")})
	resp, err = m.Query(context.Background(), msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, "pwd", resp.Actions[0].Command)
	assert.Equal(t, "resp_2", m.PreviousResponseID())

	require.Len(t, rec.requests, 2)
	assert.Len(t, rec.requests[0]["input"], 2)
	assert.NotContains(t, rec.requests[0], "previous_response_id")
	assert.Len(t, rec.requests[1]["input"], 1)
	assert.Equal(t, "resp_1", rec.requests[1]["previous_response_id"])

	cost, n := m.Stats()
	assert.InDelta(t, 0.2, cost, 1e-9)
	assert.Equal(t, 2, n)
}
