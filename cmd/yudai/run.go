package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yudai-dev/yudai/internal/adapters/sqlite"
	"github.com/yudai-dev/yudai/internal/agent"
	"github.com/yudai-dev/yudai/internal/config"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/factory"
	"github.com/yudai-dev/yudai/internal/protocol"
	"github.com/yudai-dev/yudai/internal/tmpl"
	"github.com/yudai-dev/yudai/internal/trajectory"
)

// A second Ctrl-C inside this window aborts the run instead of
// interrupting the current query.
const abortWindow = 2 * time.Second

type runOptions struct {
	configPath string
	task       string
	model      string
	costLimit  float64
	stepLimit  int
	output     string
	store      string
	statusJSON bool
	noColor    bool

	// set reports whether a flag was given explicitly.
	set func(name string) bool
}

func (o runOptions) changed(name string) bool {
	return o.set != nil && o.set(name)
}

func (o runOptions) apply(cfg *config.Config) {
	if o.changed("model") {
		cfg.Model.ModelName = o.model
	}
	if o.changed("cost-limit") {
		cfg.Agent.CostLimit = o.costLimit
	}
	if o.changed("step-limit") {
		cfg.Agent.StepLimit = o.stepLimit
	}
	if o.changed("output") {
		cfg.Output.TrajectoryPath = o.output
	}
	if o.changed("store") {
		cfg.Output.Store = o.store
	}
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Solve a task with the configured model and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.task == "" {
				opts.task = strings.Join(args, " ")
			}
			opts.set = func(name string) bool { return cmd.Flags().Changed(name) }

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var status *protocol.StatusWriter
			if opts.statusJSON {
				status = protocol.NewStatusWriter(cmd.OutOrStdout())
			}
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			interrupts := watchSignals(ctx, cancel, sigCh, status, slog.Default())

			res, err := execute(ctx, opts, status, interrupts, cmd.OutOrStdout(), cmd.ErrOrStderr(), slog.Default())
			if err != nil {
				return err
			}
			if code := exitCode(res.ExitStatus); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "yudai.toml", "configuration file (TOML or YAML)")
	f.StringVarP(&opts.task, "task", "t", "", "task description")
	f.StringVarP(&opts.model, "model", "m", "", "override model.model_name")
	f.Float64Var(&opts.costLimit, "cost-limit", 0, "override agent.cost_limit (0 = unlimited)")
	f.IntVar(&opts.stepLimit, "step-limit", 0, "override agent.step_limit (0 = unlimited)")
	f.StringVarP(&opts.output, "output", "o", "", "override output.trajectory_path")
	f.StringVar(&opts.store, "store", "", "override output.store (sqlite run database)")
	f.BoolVar(&opts.statusJSON, "status-json", false, "stream JSON status lines on stdout")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	return cmd
}

func exitCode(status string) int {
	switch status {
	case domain.ExitSubmitted:
		return 0
	case domain.ExitInterrupted:
		return 130
	}
	return 1
}

// watchSignals turns a first SIGINT into an agent interrupt. SIGTERM, or
// a second SIGINT within abortWindow, cancels ctx. Both are also reported
// on status when it is set.
func watchSignals(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, status *protocol.StatusWriter, logger *slog.Logger) <-chan string {
	interrupts := make(chan string, 1)
	notify := func(msg string, args ...any) {
		logger.Warn(msg, args...)
		if status != nil {
			status.Log(msg)
		}
	}
	go func() {
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == os.Interrupt && time.Since(last) > abortWindow {
					last = time.Now()
					notify("interrupting; press Ctrl-C again to abort")
					select {
					case interrupts <- "":
					default:
					}
					continue
				}
				notify("aborting run", "signal", sig.String())
				cancel()
				return
			}
		}
	}()
	return interrupts
}

// execute runs one episode end to end and records it. Errors are returned
// only for problems found before a run id exists; everything later ends
// up in the result and the trajectory.
func execute(ctx context.Context, opts runOptions, status *protocol.StatusWriter, interrupts <-chan string, stdout, stderr io.Writer, logger *slog.Logger) (domain.RunResult, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return domain.RunResult{}, err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return domain.RunResult{}, err
	}
	if strings.TrimSpace(opts.task) == "" {
		return domain.RunResult{}, errors.New("a task is required (--task or arguments)")
	}

	runID := uuid.NewString()
	trajPath, err := tmpl.Render(cfg.Output.TrajectoryPath, map[string]any{"run_id": runID})
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("output.trajectory_path: %w", err)
	}

	recorder := &trajectory.Recorder{Logger: logger}
	var store *sqlite.Store
	if cfg.Output.Store != "" {
		store, err = openStore(ctx, cfg.Output.Store, logger)
		if err != nil {
			return domain.RunResult{}, err
		}
		defer store.Close()
		recorder.Store = store
	}

	run := domain.NewRun(runID, opts.task)
	run.ModelName = cfg.Model.ModelName
	run.TrajectoryPath = trajPath
	run.Start()
	if store != nil {
		if err := store.CreateRun(ctx, run); err != nil {
			return domain.RunResult{}, fmt.Errorf("recording run: %w", err)
		}
	}
	logger.Info("starting run", "run_id", runID, "model", cfg.Model.ModelName, "environment", cfg.Environment.Class)

	if status != nil {
		status.Log("run " + runID + " started")
	}
	res, a := launch(ctx, cfg, opts.task, interrupts, status, logger)

	// The run context may already be cancelled; bookkeeping still happens.
	bg := context.WithoutCancel(ctx)
	if _, err := recorder.Record(bg, trajPath, runID, a, trajectory.FromResult(res)); err != nil {
		logger.Error("recording trajectory", "error", err)
	}
	var cost float64
	var calls int
	if a != nil {
		cost, calls = a.Stats()
	}
	run.Finish(res, cost, calls)
	if store != nil {
		if err := store.UpdateRun(bg, run); err != nil {
			logger.Error("updating run", "run_id", runID, "error", err)
		}
	}

	fmt.Fprintln(stderr, renderSummary(run, opts.noColor))
	if status == nil && res.ExitStatus == domain.ExitSubmitted && res.Submission != "" {
		fmt.Fprint(stdout, res.Submission)
	}
	return res, nil
}

// launch builds the model, environment and agent and runs the loop. A
// failure while building yields a result and a nil agent.
func launch(ctx context.Context, cfg *config.Config, task string, interrupts <-chan string, status *protocol.StatusWriter, logger *slog.Logger) (domain.RunResult, *agent.Agent) {
	preflight := func(err error) domain.RunResult {
		logger.Error("run setup failed", "error", err)
		res := domain.RunResult{ExitStatus: domain.ExitStatusOf(err), Submission: err.Error()}
		if status != nil {
			status.Error(err.Error())
			status.OnRunComplete(res)
		}
		return res
	}

	tracker := domain.NewTracker()
	m, err := factory.NewModel(cfg.Model, factory.Deps{Tracker: tracker, Logger: logger})
	if err != nil {
		return preflight(fmt.Errorf("building model: %w", err)), nil
	}
	env, closeEnv, err := factory.NewEnvironment(ctx, cfg.Environment, logger)
	if err != nil {
		return preflight(fmt.Errorf("building environment: %w", err)), nil
	}
	defer func() {
		if err := closeEnv(); err != nil {
			logger.Warn("closing environment", "error", err)
		}
	}()

	a := agent.New(cfg.Agent, m, env)
	a.SetLogger(logger)
	a.SetInterrupts(interrupts)
	if status != nil {
		a.SetStatusHandler(status)
	}
	res := a.Run(ctx, task, nil)
	logger.Debug("process model usage", "cost", tracker.Cost(), "calls", tracker.Calls())
	return res, a
}

func openStore(ctx context.Context, path string, logger *slog.Logger) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	store, err := sqlite.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	n, err := store.FailStaleRuns(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cleaning stale runs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked stale runs as failed", "count", n)
	}
	return store, nil
}
