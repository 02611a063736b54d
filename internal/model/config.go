package model

import (
	"github.com/yudai-dev/yudai/internal/actions"
)

// Config is the configuration shared by every concrete model adapter.
// Secrets are not part of it so that it can be serialized verbatim into
// trajectories.
type Config struct {
	ModelName           string         `json:"model_name"`
	BaseURL             string         `json:"base_url,omitempty"`
	ModelKwargs         map[string]any `json:"model_kwargs,omitempty"`
	CostTracking        CostTracking   `json:"cost_tracking"`
	FormatErrorTemplate string         `json:"format_error_template"`
	ObservationTemplate string         `json:"observation_template"`
	ActionRegex         string         `json:"action_regex,omitempty"`
	MultimodalRegex     string         `json:"multimodal_regex,omitempty"`
	Pricing             Pricing        `json:"pricing"`
}

// WithDefaults fills unset templates, regex and cost mode.
func (c Config) WithDefaults() Config {
	if c.CostTracking == "" {
		c.CostTracking = CostTrackingDefault
	}
	if c.FormatErrorTemplate == "" {
		c.FormatErrorTemplate = actions.DefaultFormatErrorTemplate
	}
	if c.ObservationTemplate == "" {
		c.ObservationTemplate = actions.DefaultObservationTemplate
	}
	if c.ActionRegex == "" {
		c.ActionRegex = actions.DefaultActionRegex
	}
	return c
}
