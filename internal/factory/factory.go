// Package factory builds models and environments from configuration.
package factory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/yudai-dev/yudai/internal/adapters/docker"
	"github.com/yudai-dev/yudai/internal/adapters/foundry"
	"github.com/yudai-dev/yudai/internal/adapters/local"
	"github.com/yudai-dev/yudai/internal/adapters/openai"
	"github.com/yudai-dev/yudai/internal/adapters/roulette"
	"github.com/yudai-dev/yudai/internal/adapters/sandbox"
	"github.com/yudai-dev/yudai/internal/adapters/scripted"
	"github.com/yudai-dev/yudai/internal/config"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/model"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Deps are shared by every model built in one process.
type Deps struct {
	Tracker *domain.Tracker
	Logger  *slog.Logger
	// Client overrides the HTTP client of API-backed models.
	Client openai.HTTPDoer
	// Getenv resolves API keys; nil uses os.Getenv.
	Getenv func(string) string
}

func (d Deps) getenv(key string) string {
	if d.Getenv != nil {
		return d.Getenv(key)
	}
	return os.Getenv(key)
}

func modelConfig(c config.ModelConfig) model.Config {
	return model.Config{
		ModelName:           c.ModelName,
		BaseURL:             c.BaseURL,
		ModelKwargs:         c.ModelKwargs,
		CostTracking:        model.CostTracking(c.CostTracking),
		FormatErrorTemplate: c.FormatErrorTemplate,
		ObservationTemplate: c.ObservationTemplate,
		ActionRegex:         c.ActionRegex,
		MultimodalRegex:     c.MultimodalRegex,
		Pricing:             c.Pricing,
	}
}

func retryPolicy(c config.RetryConfig, logger *slog.Logger) model.RetryPolicy {
	if c.Attempts == 0 {
		return model.RetryPolicy{}
	}
	p := model.DefaultRetryPolicy()
	p.MaxAttempts = c.Attempts
	if c.InitialInterval > 0 {
		p.InitialInterval = c.InitialInterval.Std()
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval.Std()
	}
	p.MaxElapsed = c.MaxElapsed.Std()
	p.Logger = logger
	return p
}

// NewModel builds the model described by c.
func NewModel(c config.ModelConfig, deps Deps) (ports.Model, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts := func() openai.Options {
		var key string
		if c.APIKeyEnv != "" {
			key = deps.getenv(c.APIKeyEnv)
		}
		return openai.Options{
			APIKey:  key,
			Client:  deps.Client,
			Retry:   retryPolicy(c.Retry, deps.Logger),
			Tracker: deps.Tracker,
			Logger:  deps.Logger,
		}
	}

	switch c.Class {
	case config.ModelOpenAI:
		return asModel(openai.NewChatModel(modelConfig(c), openai.ModeToolCall, opts()))
	case config.ModelOpenAIText:
		return asModel(openai.NewChatModel(modelConfig(c), openai.ModeText, opts()))
	case config.ModelResponses:
		return asModel(openai.NewResponsesModel(modelConfig(c), opts()))
	case config.ModelScripted:
		return asModel(scripted.New(scripted.Config{
			Config:      modelConfig(c),
			Outputs:     c.Outputs,
			CostPerCall: c.CostPerCall,
			ToolCalls:   c.ToolCalls,
		}, deps.Tracker, deps.Logger))
	case config.ModelRoulette, config.ModelInterleaving:
		subs := make([]ports.Model, 0, len(c.Models))
		for i, sc := range c.Models {
			m, err := NewModel(sc, deps)
			if err != nil {
				return nil, fmt.Errorf("model %d: %w", i, err)
			}
			subs = append(subs, m)
		}
		if c.Class == config.ModelInterleaving {
			return asModel(roulette.NewInterleaving(subs, c.Sequence))
		}
		var rng *rand.Rand
		if c.Seed != 0 {
			rng = rand.New(rand.NewPCG(c.Seed, c.Seed))
		}
		return asModel(roulette.NewRoulette(subs, rng))
	}
	return nil, fmt.Errorf("unknown model class %q", c.Class)
}

// NewEnvironment builds and starts the environment described by c. The
// returned close function releases containers and connections.
func NewEnvironment(ctx context.Context, c config.EnvironmentConfig, logger *slog.Logger) (ports.Environment, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := newEnvironment(ctx, c, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return nil }
	if cl, ok := env.(io.Closer); ok {
		closeFn = cl.Close
	}

	if fe, ok := env.(*foundry.Environment); ok && c.StartAnvil {
		if _, err := fe.StartAnvil(ctx, foundry.AnvilOptions{}); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	if c.ParseOutput {
		env = foundry.NewParsed(env, nil)
	}
	return env, closeFn, nil
}

func newEnvironment(ctx context.Context, c config.EnvironmentConfig, logger *slog.Logger) (ports.Environment, error) {
	switch c.Class {
	case config.EnvLocal:
		return local.New(local.Config{
			Cwd:     c.Cwd,
			Env:     c.Env,
			Timeout: c.Timeout.Std(),
			Shell:   c.Shell,
		}), nil
	case config.EnvDocker:
		return asEnv(docker.New(ctx, docker.Config{
			Image:            c.Image,
			Cwd:              c.Cwd,
			Env:              c.Env,
			ForwardEnv:       c.ForwardEnv,
			Timeout:          c.Timeout.Std(),
			ContainerTimeout: c.ContainerTimeout,
			RunArgs:          c.RunArgs,
			Executable:       c.Executable,
			PullTimeout:      c.PullTimeout.Std(),
		}, logger))
	case config.EnvFoundry:
		return asEnv(foundry.New(ctx, foundryConfig(c), logger))
	case config.EnvSandbox:
		return asEnv(sandbox.Dial(ctx, sandbox.Config{
			Target:  c.Address,
			Cwd:     c.Cwd,
			Timeout: c.Timeout.Std(),
		}, logger))
	}
	return nil, fmt.Errorf("unknown environment class %q", c.Class)
}

func foundryConfig(c config.EnvironmentConfig) foundry.Config {
	return foundry.Config{
		Image:               c.Image,
		Cwd:                 c.Cwd,
		Timeout:             c.Timeout.Std(),
		ContainerTimeout:    c.ContainerTimeout,
		ProjectPath:         c.ProjectPath,
		MountTarget:         c.MountTarget,
		ForwardEnv:          c.ForwardEnv,
		Env:                 c.Env,
		AnvilForkURL:        c.AnvilForkURL,
		AnvilPort:           c.AnvilPort,
		AnvilStartupTimeout: c.AnvilStartupTimeout.Std(),
		PullTimeout:         c.PullTimeout.Std(),
	}
}

// asModel and asEnv keep a failed constructor from leaking a typed nil.
func asModel[T ports.Model](m T, err error) (ports.Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func asEnv[T ports.Environment](e T, err error) (ports.Environment, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}
