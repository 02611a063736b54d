package foundry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

const (
	anvilProbe  = "pgrep -fa '(^|/)anvil([[:space:]]|$).*--port' || echo 'not_running'"
	anvilLogCmd = "cat " + anvilLogPath + " 2>/dev/null || echo 'no_log'"
)

type AnvilCause string

const (
	CauseArchiveUnsupported AnvilCause = "archive_unsupported"
	CauseConnectionRefused  AnvilCause = "connection_refused"
	CauseRateLimited        AnvilCause = "rate_limited"
	CauseToolMissing        AnvilCause = "tool_missing"
	CauseUnresponsive       AnvilCause = "unresponsive"
	CauseGeneric            AnvilCause = "generic"
	CauseNoLog              AnvilCause = "no_log"
)

// AnvilError explains why anvil did not come up.
type AnvilError struct {
	Cause   AnvilCause
	Message string
}

func (e *AnvilError) Error() string { return e.Message }

type AnvilOptions struct {
	// ForkURL overrides the configured fork RPC.
	ForkURL string
	// BlockNumber pins the fork; zero means latest.
	BlockNumber uint64
	// StartupTimeout overrides the configured readiness deadline.
	StartupTimeout time.Duration
}

// AnvilStatus reports a successful start.
type AnvilStatus struct {
	ChainID uint64
	Launch  domain.Observation
}

var archivePatterns = []string{
	"missing trie node",
	"header not found",
	"block not found",
	"state not available",
	"pruned state",
	"historical state",
	"archive node",
	"eth_getproof",
	"unable to fetch",
	"data not available",
}

// StartAnvil launches anvil detached inside the container and waits until
// it answers RPC calls.
func (e *Environment) StartAnvil(ctx context.Context, opts AnvilOptions) (AnvilStatus, error) {
	forkURL := opts.ForkURL
	if forkURL == "" {
		forkURL = e.cfg.AnvilForkURL
	}
	timeout := opts.StartupTimeout
	if timeout == 0 {
		timeout = e.cfg.AnvilStartupTimeout
	}

	parts := []string{fmt.Sprintf("anvil --port %d", e.cfg.AnvilPort)}
	if forkURL != "" {
		parts = append(parts, "--fork-url "+forkURL)
		if opts.BlockNumber > 0 {
			parts = append(parts, fmt.Sprintf("--fork-block-number %d", opts.BlockNumber))
		}
	}
	anvilCmd := strings.Join(parts, " ")
	launch := fmt.Sprintf(`nohup %s > %s 2>&1 & ANVIL_PID=$!; disown $ANVIL_PID; echo "Anvil PID: $ANVIL_PID"`, anvilCmd, anvilLogPath)

	e.logger.Info("starting anvil", "port", e.cfg.AnvilPort, "fork_url", forkURL, "block", opts.BlockNumber)
	obs, err := e.run(ctx, launch)
	if err != nil {
		return AnvilStatus{}, err
	}
	chainID, err := e.waitForAnvil(ctx, forkURL, opts.BlockNumber, timeout)
	if err != nil {
		e.logger.Error("anvil failed to start", "error", err)
		return AnvilStatus{}, err
	}
	e.logger.Info("anvil ready", "port", e.cfg.AnvilPort, "chain_id", chainID)
	return AnvilStatus{ChainID: chainID, Launch: obs}, nil
}

func (e *Environment) run(ctx context.Context, command string) (domain.Observation, error) {
	return e.Execute(ctx, domain.Action{Tool: "bash", Command: command}, ports.ExecOptions{})
}

// rawOutput prefers the unabridged text when a parsing wrapper rewrote
// the output.
func rawOutput(obs domain.Observation) string {
	if obs.RawOutput != "" {
		return obs.RawOutput
	}
	return obs.Output
}

func (e *Environment) anvilAlive(ctx context.Context) (bool, error) {
	obs, err := e.run(ctx, anvilProbe)
	if err != nil {
		return false, err
	}
	out := rawOutput(obs)
	return !strings.Contains(out, "not_running") && strings.TrimSpace(out) != "", nil
}

func (e *Environment) anvilLog(ctx context.Context) (string, error) {
	obs, err := e.run(ctx, anvilLogCmd)
	if err != nil {
		return "", err
	}
	return rawOutput(obs), nil
}

func (e *Environment) waitForAnvil(ctx context.Context, forkURL string, block uint64, timeout time.Duration) (uint64, error) {
	interval := e.cfg.AnvilPollInterval
	attempts := int(timeout / interval)
	probe := fmt.Sprintf("cast chain-id --rpc-url %s 2>&1", e.AnvilRPCURL())

	for attempt := 0; attempt < attempts; attempt++ {
		alive, err := e.anvilAlive(ctx)
		if err != nil {
			return 0, err
		}
		if !alive {
			log, err := e.anvilLog(ctx)
			if err != nil {
				return 0, err
			}
			return 0, diagnoseAnvil(log, forkURL, block)
		}

		obs, err := e.run(ctx, probe)
		if err != nil {
			return 0, err
		}
		out := rawOutput(obs)
		if strings.Contains(strings.ToLower(out), "command not found") {
			return 0, &AnvilError{
				Cause: CauseToolMissing,
				Message: fmt.Sprintf("anvil readiness check failed: cast is not available in the container.\n"+
					"Make sure image %s ships the Foundry tools (cast, anvil).\n\nCommand output:\n%s",
					e.cfg.Image, truncate(out, 500)),
			}
		}
		if id, ok := lastLineUint(out); ok {
			e.logger.Debug("anvil answered", "after", time.Duration(attempt+1)*interval, "chain_id", id)
			return id, nil
		}
		if attempt > 0 && attempt%5 == 0 {
			e.logger.Info("still waiting for anvil", "elapsed", time.Duration(attempt+1)*interval)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	e.logger.Warn("anvil did not become ready", "timeout", timeout)
	log, err := e.anvilLog(ctx)
	if err != nil {
		return 0, err
	}
	alive, err := e.anvilAlive(ctx)
	if err != nil {
		return 0, err
	}
	if alive {
		return 0, &AnvilError{
			Cause: CauseUnresponsive,
			Message: fmt.Sprintf("anvil is running but did not answer RPC within %s.\n"+
				"Fork initialization may be slow (raise the startup timeout), the fork RPC may be unreachable or rate limited.\n\n"+
				"Fork URL: %s\nBlock number: %s\n\nAnvil log (tail):\n%s",
				timeout, forkURL, blockLabel(block), tail(log, 1000)),
		}
	}
	return 0, diagnoseAnvil(log, forkURL, block)
}

// diagnoseAnvil classifies a failed start from the anvil log.
func diagnoseAnvil(log, forkURL string, block uint64) *AnvilError {
	lower := strings.ToLower(log)
	archive := false
	for _, p := range archivePatterns {
		if strings.Contains(lower, p) {
			archive = true
			break
		}
	}
	switch {
	case archive && block > 0:
		return &AnvilError{
			Cause: CauseArchiveUnsupported,
			Message: fmt.Sprintf("anvil could not fork at historical block %d: the RPC endpoint %q does not serve archive state.\n"+
				"Forking an old block needs an archive node; public endpoints usually keep only recent state.\n"+
				"Point the fork URL at an archive-capable provider, or fork at the latest block.\n\nAnvil log:\n%s",
				block, forkURL, truncate(log, 500)),
		}
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "failed to connect"):
		return &AnvilError{
			Cause: CauseConnectionRefused,
			Message: fmt.Sprintf("anvil could not reach the fork RPC endpoint %s.\n"+
				"Check the URL, any API key it embeds and network access from the container.\n\nAnvil log:\n%s",
				forkURL, truncate(log, 500)),
		}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return &AnvilError{
			Cause: CauseRateLimited,
			Message: fmt.Sprintf("anvil fork was rate limited by %s.\n"+
				"Retry later or use an RPC plan with higher limits.\n\nAnvil log:\n%s",
				forkURL, truncate(log, 500)),
		}
	case strings.TrimSpace(log) != "" && !strings.Contains(log, "no_log"):
		return &AnvilError{
			Cause: CauseGeneric,
			Message: fmt.Sprintf("anvil failed to start.\n\nFork URL: %s\nBlock number: %s\n\nAnvil log:\n%s",
				forkURL, blockLabel(block), truncate(log, 1000)),
		}
	default:
		return &AnvilError{
			Cause: CauseNoLog,
			Message: fmt.Sprintf("anvil failed to start and left no log.\n\nFork URL: %s\nBlock number: %s\n"+
				"Check that the container is running, anvil is installed and the fork RPC is reachable from inside it.",
				forkURL, blockLabel(block)),
		}
	}
}

func lastLineUint(out string) (uint64, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return 0, false
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseUint(last, 10, 64)
	return id, err == nil
}

func blockLabel(block uint64) string {
	if block == 0 {
		return "latest"
	}
	return strconv.FormatUint(block, 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
