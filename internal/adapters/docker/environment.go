// Package docker runs actions inside a long-lived container through the
// docker CLI.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/yudai-dev/yudai/internal/actions"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
	"github.com/yudai-dev/yudai/internal/shell"
)

type Config struct {
	Image string
	Cwd   string
	// Env is set inside the container for every command.
	Env map[string]string
	// ForwardEnv names host variables copied into each command when set.
	ForwardEnv []string
	Timeout    time.Duration
	// ContainerTimeout is passed to sleep(1) as the container's lifetime,
	// e.g. "2h".
	ContainerTimeout string
	RunArgs          []string
	Executable       string
	PullTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cwd == "" {
		c.Cwd = "/"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ContainerTimeout == "" {
		c.ContainerTimeout = "2h"
	}
	if c.RunArgs == nil {
		c.RunArgs = []string{"--rm"}
	}
	if c.Executable == "" {
		c.Executable = "docker"
	}
	if c.PullTimeout == 0 {
		c.PullTimeout = 120 * time.Second
	}
	return c
}

type Environment struct {
	cfg         Config
	name        string
	containerID string
	logger      *slog.Logger
}

// New starts the container and returns an environment bound to it. Close
// removes the container.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Environment, error) {
	cfg = cfg.withDefaults()
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker environment needs an image")
	}
	if _, err := exec.LookPath(cfg.Executable); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", cfg.Executable, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Environment{
		cfg:    cfg,
		name:   domain.ContainerName("yudai"),
		logger: logger,
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.PullTimeout)
	defer cancel()
	cmd := exec.CommandContext(startCtx, cfg.Executable, e.runArgs()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logger.Debug("starting container", "image", cfg.Image, "name", e.name)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("creating container: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	e.containerID = strings.TrimSpace(stdout.String())
	logger.Info("container started", "id", shortID(e.containerID), "image", cfg.Image)
	return e, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (e *Environment) runArgs() []string {
	args := []string{"run", "-d", "--name", e.name, "-w", e.cfg.Cwd}
	args = append(args, e.cfg.RunArgs...)
	return append(args, e.cfg.Image, "sleep", e.cfg.ContainerTimeout)
}

func (e *Environment) execArgs(command, cwd string) []string {
	args := []string{"exec", "-w", cwd}
	for _, k := range e.cfg.ForwardEnv {
		if v, ok := os.LookupEnv(k); ok {
			args = append(args, "-e", k+"="+v)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(e.cfg.Env)) {
		args = append(args, "-e", k+"="+e.cfg.Env[k])
	}
	return append(args, e.containerID, "bash", "-lc", command)
}

// ContainerID is the id reported by docker run.
func (e *Environment) ContainerID() string { return e.containerID }

func (e *Environment) Execute(ctx context.Context, action domain.Action, opts ports.ExecOptions) (domain.Observation, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd = e.cfg.Cwd
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.cfg.Timeout
	}
	res, err := shell.Run(ctx, shell.Command{
		Name:    e.cfg.Executable,
		Args:    e.execArgs(action.Command, cwd),
		Timeout: timeout,
	})
	if err != nil {
		return domain.Observation{}, err
	}
	return res.Observe(action.Command), nil
}

func (e *Environment) TemplateVars() map[string]any {
	return e.Serialize()
}

func (e *Environment) Tools() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{actions.BashTool()}
}

func (e *Environment) Serialize() map[string]any {
	env := map[string]any{}
	for k, v := range e.cfg.Env {
		env[k] = v
	}
	return map[string]any{
		"image":             e.cfg.Image,
		"cwd":               e.cfg.Cwd,
		"env":               env,
		"forward_env":       e.cfg.ForwardEnv,
		"timeout":           e.cfg.Timeout.Seconds(),
		"container_timeout": e.cfg.ContainerTimeout,
		"run_args":          e.cfg.RunArgs,
		"executable":        e.cfg.Executable,
	}
}

// Close stops and removes the container.
func (e *Environment) Close() error {
	if e.containerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.cfg.Executable, "rm", "-f", e.containerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("removing container: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	e.logger.Debug("container removed", "id", shortID(e.containerID))
	e.containerID = ""
	return nil
}
