// Package config loads the run configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yudai-dev/yudai/internal/agent"
	"github.com/yudai-dev/yudai/internal/model"
)

const (
	EnvCostTracking  = "YUDAI_COST_TRACKING"
	EnvRetryAttempts = "YUDAI_MODEL_RETRY_ATTEMPTS"
)

// Model classes.
const (
	ModelOpenAI       = "openai"
	ModelOpenAIText   = "openai_text"
	ModelResponses    = "responses"
	ModelScripted     = "scripted"
	ModelRoulette     = "roulette"
	ModelInterleaving = "interleaving"
)

// Environment classes.
const (
	EnvLocal   = "local"
	EnvDocker  = "docker"
	EnvFoundry = "foundry"
	EnvSandbox = "sandbox"
)

type RetryConfig struct {
	Attempts        int      `toml:"attempts" yaml:"attempts"`
	InitialInterval Duration `toml:"initial_interval" yaml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval" yaml:"max_interval"`
	MaxElapsed      Duration `toml:"max_elapsed" yaml:"max_elapsed"`
}

type ModelConfig struct {
	Class               string         `toml:"class" yaml:"class"`
	ModelName           string         `toml:"model_name" yaml:"model_name"`
	BaseURL             string         `toml:"base_url" yaml:"base_url"`
	APIKeyEnv           string         `toml:"api_key_env" yaml:"api_key_env"`
	ModelKwargs         map[string]any `toml:"model_kwargs" yaml:"model_kwargs"`
	CostTracking        string         `toml:"cost_tracking" yaml:"cost_tracking"`
	FormatErrorTemplate string         `toml:"format_error_template" yaml:"format_error_template"`
	ObservationTemplate string         `toml:"observation_template" yaml:"observation_template"`
	ActionRegex         string         `toml:"action_regex" yaml:"action_regex"`
	MultimodalRegex     string         `toml:"multimodal_regex" yaml:"multimodal_regex"`
	Pricing             model.Pricing  `toml:"pricing" yaml:"pricing"`
	Retry               RetryConfig    `toml:"retry" yaml:"retry"`

	// Scripted model.
	Outputs     []string `toml:"outputs" yaml:"outputs"`
	CostPerCall float64  `toml:"cost_per_call" yaml:"cost_per_call"`
	ToolCalls   bool     `toml:"tool_calls" yaml:"tool_calls"`

	// Roulette and interleaving.
	Models   []ModelConfig `toml:"models" yaml:"models"`
	Sequence []int         `toml:"sequence" yaml:"sequence"`
	Seed     uint64        `toml:"seed" yaml:"seed"`
}

type EnvironmentConfig struct {
	Class      string            `toml:"class" yaml:"class"`
	Cwd        string            `toml:"cwd" yaml:"cwd"`
	Env        map[string]string `toml:"env" yaml:"env"`
	ForwardEnv []string          `toml:"forward_env" yaml:"forward_env"`
	Timeout    Duration          `toml:"timeout" yaml:"timeout"`
	Shell      string            `toml:"shell" yaml:"shell"`

	Image            string   `toml:"image" yaml:"image"`
	ContainerTimeout string   `toml:"container_timeout" yaml:"container_timeout"`
	RunArgs          []string `toml:"run_args" yaml:"run_args"`
	Executable       string   `toml:"executable" yaml:"executable"`
	PullTimeout      Duration `toml:"pull_timeout" yaml:"pull_timeout"`

	ProjectPath         string   `toml:"project_path" yaml:"project_path"`
	MountTarget         string   `toml:"mount_target" yaml:"mount_target"`
	AnvilForkURL        string   `toml:"anvil_fork_url" yaml:"anvil_fork_url"`
	AnvilPort           int      `toml:"anvil_port" yaml:"anvil_port"`
	AnvilStartupTimeout Duration `toml:"anvil_startup_timeout" yaml:"anvil_startup_timeout"`
	// StartAnvil launches anvil once the container is up.
	StartAnvil  bool `toml:"start_anvil" yaml:"start_anvil"`
	ParseOutput bool `toml:"parse_output" yaml:"parse_output"`

	// Address of a sandbox daemon.
	Address string `toml:"address" yaml:"address"`
}

type OutputConfig struct {
	// TrajectoryPath may reference {{.run_id}}.
	TrajectoryPath string `toml:"trajectory_path" yaml:"trajectory_path"`
	// Store is a sqlite database recording runs; empty disables it.
	Store string `toml:"store" yaml:"store"`
}

type Config struct {
	Agent       agent.Config      `toml:"agent" yaml:"agent"`
	Model       ModelConfig       `toml:"model" yaml:"model"`
	Environment EnvironmentConfig `toml:"environment" yaml:"environment"`
	Output      OutputConfig      `toml:"output" yaml:"output"`
}

func defaults() Config {
	return Config{
		Agent: agent.Config{
			SystemTemplate:   DefaultSystemTemplate,
			InstanceTemplate: DefaultInstanceTemplate,
			CostLimit:        3.0,
		},
		Model: ModelConfig{
			Class:        ModelOpenAI,
			APIKeyEnv:    "OPENROUTER_API_KEY",
			CostTracking: string(model.CostTrackingDefault),
		},
		Environment: EnvironmentConfig{
			Class: EnvLocal,
		},
		Output: OutputConfig{
			TrajectoryPath: filepath.Join(".yudai", "trajectories", "{{.run_id}}.traj.json"),
		},
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := defaults()
	applyEnv(&cfg)
	return &cfg
}

// Load reads path, choosing the format by extension (.yaml/.yml or TOML
// otherwise). A missing file yields the defaults. Environment overrides
// are applied last.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		applyEnv(&cfg)
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvCostTracking); v != "" {
		cfg.Model.CostTracking = v
		for i := range cfg.Model.Models {
			cfg.Model.Models[i].CostTracking = v
		}
	}
	if v := os.Getenv(EnvRetryAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Model.Retry.Attempts = n
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Agent.StepLimit < 0 {
		return fmt.Errorf("agent.step_limit must not be negative")
	}
	if c.Agent.CostLimit < 0 {
		return fmt.Errorf("agent.cost_limit must not be negative")
	}
	if err := c.Model.validate("model"); err != nil {
		return err
	}
	return c.Environment.validate()
}

func (m *ModelConfig) validate(path string) error {
	switch m.Class {
	case ModelOpenAI, ModelOpenAIText, ModelResponses:
		if m.ModelName == "" {
			return fmt.Errorf("%s.model_name is required for class %q", path, m.Class)
		}
	case ModelScripted:
	case ModelRoulette, ModelInterleaving:
		if len(m.Models) == 0 {
			return fmt.Errorf("%s.models must list at least one model for class %q", path, m.Class)
		}
		for i := range m.Models {
			if err := m.Models[i].validate(fmt.Sprintf("%s.models[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s.class: unknown model class %q", path, m.Class)
	}
	switch model.CostTracking(m.CostTracking) {
	case "", model.CostTrackingDefault, model.CostTrackingIgnoreErrors:
	default:
		return fmt.Errorf("%s.cost_tracking: unknown mode %q", path, m.CostTracking)
	}
	if m.Retry.Attempts < 0 {
		return fmt.Errorf("%s.retry.attempts must not be negative", path)
	}
	return nil
}

func (e *EnvironmentConfig) validate() error {
	switch e.Class {
	case EnvLocal, EnvFoundry:
	case EnvDocker:
		if e.Image == "" {
			return fmt.Errorf("environment.image is required for class %q", e.Class)
		}
	case EnvSandbox:
		if e.Address == "" {
			return fmt.Errorf("environment.address is required for class %q", e.Class)
		}
	default:
		return fmt.Errorf("environment.class: unknown environment class %q", e.Class)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("environment.timeout must not be negative")
	}
	return nil
}
