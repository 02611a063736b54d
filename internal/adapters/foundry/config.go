// Package foundry provides a container environment preloaded with the
// Foundry smart-contract toolchain, helpers to run a local anvil chain
// inside it, and a wrapper that condenses verbose tool output.
package foundry

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/yudai-dev/yudai/internal/adapters/docker"
)

const (
	DefaultImage       = "yudai/foundry-full:latest"
	DefaultWorkdir     = "/workspace"
	DefaultAnvilPort   = 8545
	anvilLogPath       = "/tmp/anvil.log"
	defaultPollEvery   = 2 * time.Second
	defaultAnvilWait   = 60 * time.Second
	defaultCmdTimeout  = 120 * time.Second
	defaultPullTimeout = 180 * time.Second
)

// DefaultForwardEnv lists host variables passed into the container.
var DefaultForwardEnv = []string{
	"ETH_RPC_URL",
	"ETHERSCAN_API_KEY",
	"PRIVATE_KEY",
	"ALCHEMY_API_KEY",
	"INFURA_API_KEY",
}

// DefaultEnv keeps Foundry tools quiet and non-interactive.
var DefaultEnv = map[string]string{
	"FOUNDRY_PROFILE":                 "default",
	"FOUNDRY_DISABLE_NIGHTLY_WARNING": "1",
	"FORCE_COLOR":                     "1",
	"CI":                              "true",
	"PAGER":                           "cat",
	"MANPAGER":                        "cat",
}

type Config struct {
	Image            string
	Cwd              string
	Timeout          time.Duration
	ContainerTimeout string
	// ProjectPath is a host directory mounted at MountTarget.
	ProjectPath string
	MountTarget string
	ForwardEnv  []string
	Env         map[string]string

	AnvilForkURL        string
	AnvilPort           int
	AnvilStartupTimeout time.Duration
	// AnvilPollInterval is the delay between readiness probes.
	AnvilPollInterval time.Duration
	PullTimeout       time.Duration
}

func (c Config) WithDefaults() Config {
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.Cwd == "" {
		c.Cwd = DefaultWorkdir
	}
	if c.Timeout == 0 {
		c.Timeout = defaultCmdTimeout
	}
	if c.ContainerTimeout == "" {
		c.ContainerTimeout = "4h"
	}
	if c.MountTarget == "" {
		c.MountTarget = DefaultWorkdir
	}
	if c.ForwardEnv == nil {
		c.ForwardEnv = append([]string(nil), DefaultForwardEnv...)
	}
	if c.Env == nil {
		c.Env = maps.Clone(DefaultEnv)
	}
	if c.AnvilPort == 0 {
		c.AnvilPort = DefaultAnvilPort
	}
	if c.AnvilStartupTimeout == 0 {
		c.AnvilStartupTimeout = defaultAnvilWait
	}
	if c.AnvilPollInterval == 0 {
		c.AnvilPollInterval = defaultPollEvery
	}
	if c.PullTimeout == 0 {
		c.PullTimeout = defaultPullTimeout
	}
	return c
}

// DockerConfig derives the container settings, mounting ProjectPath when
// it exists on the host. It reports whether the mount was added.
func (c Config) DockerConfig() (docker.Config, bool, error) {
	runArgs := []string{"--rm"}
	mounted := false
	if c.ProjectPath != "" {
		abs, err := filepath.Abs(c.ProjectPath)
		if err != nil {
			return docker.Config{}, false, fmt.Errorf("resolving project path: %w", err)
		}
		if _, err := os.Stat(abs); err == nil {
			runArgs = append(runArgs, "-v", abs+":"+c.MountTarget)
			mounted = true
		}
	}
	return docker.Config{
		Image:            c.Image,
		Cwd:              c.Cwd,
		Env:              c.Env,
		ForwardEnv:       c.ForwardEnv,
		Timeout:          c.Timeout,
		ContainerTimeout: c.ContainerTimeout,
		RunArgs:          runArgs,
		PullTimeout:      c.PullTimeout,
	}, mounted, nil
}
