package foundry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/yudai-dev/yudai/internal/adapters/docker"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Environment decorates a container environment with Foundry settings and
// anvil management.
type Environment struct {
	ports.Environment
	cfg    Config
	logger *slog.Logger
}

// New starts a Foundry container.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Environment, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	dcfg, mounted, err := cfg.DockerConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ProjectPath != "" && !mounted {
		logger.Warn("project path does not exist, not mounting", "path", cfg.ProjectPath)
	} else if mounted {
		logger.Info("mounting project", "path", cfg.ProjectPath, "target", cfg.MountTarget)
	}
	inner, err := docker.New(ctx, dcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting foundry container: %w", err)
	}
	return Wrap(inner, cfg, logger), nil
}

// Wrap decorates an already running environment.
func Wrap(inner ports.Environment, cfg Config, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.Default()
	}
	return &Environment{Environment: inner, cfg: cfg.WithDefaults(), logger: logger}
}

// AnvilRPCURL is the address of the local chain inside the container.
func (e *Environment) AnvilRPCURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.cfg.AnvilPort)
}

func (e *Environment) TemplateVars() map[string]any {
	vars := maps.Clone(e.Environment.TemplateVars())
	if vars == nil {
		vars = map[string]any{}
	}
	vars["foundry_available"] = true
	vars["project_mounted"] = e.cfg.ProjectPath != ""
	vars["project_path"] = e.cfg.ProjectPath
	vars["anvil_fork_url"] = e.cfg.AnvilForkURL
	vars["anvil_port"] = e.cfg.AnvilPort
	return vars
}

func (e *Environment) Serialize() map[string]any {
	out := maps.Clone(e.Environment.Serialize())
	if out == nil {
		out = map[string]any{}
	}
	out["project_path"] = e.cfg.ProjectPath
	out["mount_target"] = e.cfg.MountTarget
	out["anvil_fork_url"] = e.cfg.AnvilForkURL
	out["anvil_port"] = e.cfg.AnvilPort
	out["anvil_startup_timeout"] = e.cfg.AnvilStartupTimeout.Seconds()
	return out
}

func (e *Environment) Close() error {
	if c, ok := e.Environment.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
