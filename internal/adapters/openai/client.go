// Package openai implements model adapters for OpenAI-compatible HTTP
// backends: chat completions (tool-calling or fenced-text actions) and
// the stateful responses API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// HTTPDoer abstracts the HTTP client used to reach the backend.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options carries the collaborators and secrets an adapter needs beyond
// its serializable model.Config.
type Options struct {
	APIKey  string
	Client  HTTPDoer
	Retry   model.RetryPolicy
	Tracker *domain.Tracker
	Logger  *slog.Logger
}

type client struct {
	apiKey  string
	baseURL string
	doer    HTTPDoer
}

func newClient(baseURL, apiKey string, doer HTTPDoer) *client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), doer: doer}
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// post sends one JSON request and returns the raw body of a successful
// response. Failures are reported as *model.APIError.
func (c *client) post(ctx context.Context, path string, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.APIError{Kind: model.KindTransport, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.APIError{Kind: model.KindTransport, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.ClassifyStatus(resp.StatusCode, string(body))
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &model.APIError{Kind: model.KindInvalidResponse, StatusCode: resp.StatusCode, Message: "decoding response", Err: err}
	}
	if env.Error != nil {
		return nil, &model.APIError{
			Kind:       model.KindUnknown,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s (code: %v)", env.Error.Message, env.Error.Code),
		}
	}
	return body, nil
}

// buildPayload encodes req and overlays the configured model kwargs.
func buildPayload(req any, kwargs map[string]any) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if len(kwargs) == 0 {
		return data, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	maps.Copy(merged, kwargs)
	return json.Marshal(merged)
}

func retryPolicy(opts Options) model.RetryPolicy {
	p := opts.Retry
	if p.MaxAttempts == 0 {
		p = model.DefaultRetryPolicy()
	}
	if p.Logger == nil {
		p.Logger = opts.Logger
	}
	return p
}
