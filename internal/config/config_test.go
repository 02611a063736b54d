package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "yudai.toml", `
[agent]
step_limit = 25
cost_limit = 1.5
instance_template = "Do {{.task}}"

[model]
class = "openai_text"
model_name = "openai/gpt-4o"
cost_tracking = "ignore_errors"

[model.pricing]
input_per_million = 2.5
output_per_million = 10.0

[model.model_kwargs]
temperature = 0.2

[model.retry]
attempts = 3
initial_interval = "500ms"
max_interval = 10

[environment]
class = "docker"
image = "python:3.12"
timeout = 45
forward_env = ["GITHUB_TOKEN"]

[environment.env]
PAGER = "cat"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.Agent.StepLimit)
	assert.Equal(t, 1.5, cfg.Agent.CostLimit)
	assert.Equal(t, "Do {{.task}}", cfg.Agent.InstanceTemplate)
	assert.Equal(t, DefaultSystemTemplate, cfg.Agent.SystemTemplate)

	assert.Equal(t, ModelOpenAIText, cfg.Model.Class)
	assert.Equal(t, "openai/gpt-4o", cfg.Model.ModelName)
	assert.Equal(t, "ignore_errors", cfg.Model.CostTracking)
	assert.Equal(t, 2.5, cfg.Model.Pricing.InputPerMillion)
	assert.Equal(t, 0.2, cfg.Model.ModelKwargs["temperature"])
	assert.Equal(t, "OPENROUTER_API_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, 3, cfg.Model.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Model.Retry.InitialInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.Model.Retry.MaxInterval.Std())

	assert.Equal(t, EnvDocker, cfg.Environment.Class)
	assert.Equal(t, 45*time.Second, cfg.Environment.Timeout.Std())
	assert.Equal(t, []string{"GITHUB_TOKEN"}, cfg.Environment.ForwardEnv)
	assert.Equal(t, "cat", cfg.Environment.Env["PAGER"])
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "yudai.yaml", `
agent:
  step_limit: 10
model:
  class: interleaving
  sequence: [0, 0, 1]
  models:
    - class: scripted
      outputs: ["a", "b"]
    - class: scripted
      cost_per_call: 0.5
environment:
  class: foundry
  project_path: ./contracts
  anvil_fork_url: https://eth.example
  anvil_startup_timeout: 2m
  parse_output: true
output:
  store: runs.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Agent.StepLimit)
	assert.Equal(t, 3.0, cfg.Agent.CostLimit)
	assert.Equal(t, ModelInterleaving, cfg.Model.Class)
	assert.Equal(t, []int{0, 0, 1}, cfg.Model.Sequence)
	require.Len(t, cfg.Model.Models, 2)
	assert.Equal(t, []string{"a", "b"}, cfg.Model.Models[0].Outputs)
	assert.Equal(t, 0.5, cfg.Model.Models[1].CostPerCall)
	assert.Equal(t, EnvFoundry, cfg.Environment.Class)
	assert.Equal(t, 2*time.Minute, cfg.Environment.AnvilStartupTimeout.Std())
	assert.True(t, cfg.Environment.ParseOutput)
	assert.Equal(t, "runs.db", cfg.Output.Store)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ModelOpenAI, cfg.Model.Class)
	assert.Equal(t, EnvLocal, cfg.Environment.Class)
	assert.Equal(t, 3.0, cfg.Agent.CostLimit)
	assert.Contains(t, cfg.Output.TrajectoryPath, "{{.run_id}}")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvCostTracking, "ignore_errors")
	t.Setenv(EnvRetryAttempts, "2")
	path := writeFile(t, "yudai.toml", `
[model]
class = "roulette"
[[model.models]]
class = "scripted"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ignore_errors", cfg.Model.CostTracking)
	assert.Equal(t, "ignore_errors", cfg.Model.Models[0].CostTracking)
	assert.Equal(t, 2, cfg.Model.Retry.Attempts)
}

func TestLoad_InvalidSyntax(t *testing.T) {
	_, err := Load(writeFile(t, "bad.toml", "[agent\n"))
	assert.Error(t, err)
	_, err = Load(writeFile(t, "bad.yaml", "agent: [\n"))
	assert.Error(t, err)
	_, err = Load(writeFile(t, "bad.toml", "[environment]\ntimeout = \"soon\"\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"negative step limit", func(c *Config) { c.Agent.StepLimit = -1 }, "step_limit"},
		{"negative cost limit", func(c *Config) { c.Agent.CostLimit = -0.1 }, "cost_limit"},
		{"unknown model", func(c *Config) { c.Model.Class = "gpt" }, "unknown model class"},
		{"model name required", func(c *Config) { c.Model.ModelName = "" }, "model_name is required"},
		{"roulette needs models", func(c *Config) { c.Model.Class = ModelRoulette }, "at least one model"},
		{"nested model checked", func(c *Config) {
			c.Model.Class = ModelRoulette
			c.Model.Models = []ModelConfig{{Class: "nope"}}
		}, "model.models[0].class"},
		{"cost tracking", func(c *Config) { c.Model.CostTracking = "sometimes" }, "cost_tracking"},
		{"unknown environment", func(c *Config) { c.Environment.Class = "vm" }, "unknown environment class"},
		{"docker image", func(c *Config) { c.Environment.Class = EnvDocker }, "image is required"},
		{"sandbox address", func(c *Config) { c.Environment.Class = EnvSandbox }, "address is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Model.ModelName = "m"
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestSample_LoadsAndValidates(t *testing.T) {
	cfg, err := Load(writeFile(t, "yudai.toml", Sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Environment.Timeout.Std())
	assert.Equal(t, 4*time.Second, cfg.Model.Retry.InitialInterval.Std())
}

func TestDuration_Parse(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1.5")))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
	require.NoError(t, d.UnmarshalText([]byte("2h")))
	assert.Equal(t, 2*time.Hour, d.Std())
	assert.Error(t, d.UnmarshalText([]byte("later")))

	text, err := Duration(90 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
