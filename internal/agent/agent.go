// Package agent drives the query, execute and observe loop between a model
// and an environment.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
	"github.com/yudai-dev/yudai/internal/protocol"
	"github.com/yudai-dev/yudai/internal/tmpl"
)

type Config struct {
	SystemTemplate   string  `json:"system_template" toml:"system_template" yaml:"system_template"`
	InstanceTemplate string  `json:"instance_template" toml:"instance_template" yaml:"instance_template"`
	StepLimit        int     `json:"step_limit" toml:"step_limit" yaml:"step_limit"`
	CostLimit        float64 `json:"cost_limit" toml:"cost_limit" yaml:"cost_limit"`
}

// StatusHandler receives notifications about loop progress.
type StatusHandler interface {
	OnStepStart(step int)
	OnAction(step int, action domain.Action)
	OnObservation(step int, obs domain.Observation)
	OnRecovered(step int, err error)
	OnRunComplete(result domain.RunResult)
}

type noopStatus struct{}

func (noopStatus) OnStepStart(int)                       {}
func (noopStatus) OnAction(int, domain.Action)           {}
func (noopStatus) OnObservation(int, domain.Observation) {}
func (noopStatus) OnRecovered(int, error)                {}
func (noopStatus) OnRunComplete(domain.RunResult)        {}

// Agent owns one conversation. It is not safe for concurrent use.
type Agent struct {
	cfg    Config
	model  ports.Model
	env    ports.Environment
	logger *slog.Logger
	status StatusHandler

	interrupts <-chan string
	now        func() time.Time

	messages  []domain.Message
	extraVars map[string]any
	cost      float64
	calls     int
	step      int
}

func New(cfg Config, model ports.Model, env ports.Environment) *Agent {
	return &Agent{
		cfg:       cfg,
		model:     model,
		env:       env,
		logger:    slog.Default(),
		status:    noopStatus{},
		now:       time.Now,
		extraVars: map[string]any{},
	}
}

func (a *Agent) SetStatusHandler(h StatusHandler) {
	a.status = h
}

func (a *Agent) SetLogger(l *slog.Logger) {
	a.logger = l
}

// SetInterrupts installs the channel human interrupts arrive on. A value
// received while the model is being queried cancels that query and is
// recorded as a user interruption; one received while an action executes
// aborts the run.
func (a *Agent) SetInterrupts(ch <-chan string) {
	a.interrupts = ch
}

// Messages returns a copy of the conversation so far.
func (a *Agent) Messages() []domain.Message {
	return append([]domain.Message(nil), a.messages...)
}

// Stats returns the cost and number of model calls this agent accounted.
func (a *Agent) Stats() (cost float64, calls int) {
	return a.cost, a.calls
}

// TemplateVars merges the agent configuration with environment and model
// variables and the run's extra variables, later sources winning.
func (a *Agent) TemplateVars() map[string]any {
	return tmpl.Merge(tmpl.ToMap(a.cfg), a.env.TemplateVars(), a.model.TemplateVars(), a.extraVars)
}

func (a *Agent) render(text string) (string, error) {
	return tmpl.Render(text, a.TemplateVars())
}

func (a *Agent) add(msgs ...domain.Message) {
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = a.now()
		}
		a.messages = append(a.messages, m)
	}
}

// Run resets the conversation, renders the prompts with task and vars and
// steps until a terminal outcome.
func (a *Agent) Run(ctx context.Context, task string, vars map[string]any) domain.RunResult {
	var result domain.RunResult
	if err := a.Start(task, vars); err != nil {
		result = failure(err)
	} else {
		for {
			out := a.Step(ctx)
			if out.Kind == Terminal {
				result = out.Result
				break
			}
		}
	}
	a.status.OnRunComplete(result)
	a.logger.Info("agent finished", "exit_status", result.ExitStatus, "steps", a.step, "cost", a.cost, "calls", a.calls)
	return result
}

// Start resets the conversation and appends the rendered system and
// instance prompts. Run calls it; it is exported for callers that drive
// Step themselves.
func (a *Agent) Start(task string, vars map[string]any) error {
	maps.Copy(a.extraVars, vars)
	a.extraVars["task"] = task
	a.messages = nil
	a.step = 0

	system, err := a.render(a.cfg.SystemTemplate)
	if err != nil {
		return fmt.Errorf("system template: %w", err)
	}
	instance, err := a.render(a.cfg.InstanceTemplate)
	if err != nil {
		return fmt.Errorf("instance template: %w", err)
	}
	a.add(a.model.FormatMessage(domain.RoleSystem, system), a.model.FormatMessage(domain.RoleUser, instance))
	return nil
}

func failure(err error) domain.RunResult {
	return domain.RunResult{ExitStatus: domain.ExitStatusOf(err), Submission: err.Error()}
}

// Step performs one query, execute and observe cycle and classifies how it
// ended.
func (a *Agent) Step(ctx context.Context) StepOutcome {
	a.step++
	a.status.OnStepStart(a.step)
	before := len(a.messages)
	err := a.cycle(ctx)
	out := a.classify(err)
	out.Messages = append([]domain.Message(nil), a.messages[before:]...)
	return out
}

func (a *Agent) cycle(ctx context.Context) error {
	msg, err := a.query(ctx)
	if err != nil {
		return err
	}
	return a.observe(ctx, msg)
}

// classify turns the error a cycle ended with into an outcome, appending
// the message that records a flow-control signal.
func (a *Agent) classify(err error) StepOutcome {
	if err == nil {
		return StepOutcome{Kind: Continue}
	}

	var (
		formatErr    *domain.FormatError
		submitted    *domain.Submitted
		limits       *domain.LimitsExceeded
		interruption *domain.UserInterruption
	)
	switch {
	case errors.As(err, &formatErr):
		a.addSignal(err, formatErr.Message)
		a.status.OnRecovered(a.step, err)
		a.logger.Debug("format error", "step", a.step, "error", formatErr.Message)
		return StepOutcome{Kind: Recovered, Signal: err}
	case errors.As(err, &interruption):
		a.addSignal(err, interruption.Message)
		a.status.OnRecovered(a.step, err)
		a.logger.Info("interrupted by user", "step", a.step)
		return StepOutcome{Kind: Recovered, Signal: err}
	case errors.As(err, &submitted):
		a.addSignal(err, submitted.Submission)
		return StepOutcome{Kind: Terminal, Signal: err, Result: domain.RunResult{
			ExitStatus: domain.ExitSubmitted,
			Submission: submitted.Submission,
		}}
	case errors.As(err, &limits):
		a.addSignal(err, limits.Message)
		return StepOutcome{Kind: Terminal, Signal: err, Result: domain.RunResult{ExitStatus: domain.ExitLimitsExceeded}}
	}
	a.logger.Error("agent step failed", "step", a.step, "error", err)
	return StepOutcome{Kind: Terminal, Signal: err, Result: failure(err)}
}

func (a *Agent) addSignal(err error, text string) {
	msg := a.model.FormatMessage(domain.RoleUser, text)
	msg.Extra = map[string]any{"interrupt_type": domain.ExitStatusOf(err)}
	a.add(msg)
}

func (a *Agent) limitsReached() bool {
	return (a.cfg.StepLimit > 0 && a.cfg.StepLimit <= a.calls) ||
		(a.cfg.CostLimit > 0 && a.cfg.CostLimit <= a.cost)
}

func (a *Agent) query(ctx context.Context) (domain.Message, error) {
	if a.limitsReached() {
		return domain.Message{}, &domain.LimitsExceeded{Message: "Limits exceeded."}
	}

	qctx, stop := a.watchInterrupts(ctx)
	resp, err := a.model.Query(qctx, a.messages, a.env.Tools())
	note, interrupted := stop()

	var formatErr *domain.FormatError
	switch {
	case err == nil:
	case errors.As(err, &formatErr):
		// The failed call still happened: account for it and keep what
		// the model said, without tool calls nobody will answer.
		a.cost += formatErr.Cost
		a.calls++
		if formatErr.Response != nil {
			msg := a.assistantMessage(*formatErr.Response)
			msg.ToolCalls = nil
			msg.Actions = nil
			a.add(msg)
		}
		return domain.Message{}, err
	case interrupted && ctx.Err() == nil:
		text := "Interrupted by user"
		if note != "" {
			text += ": " + note
		}
		return domain.Message{}, &domain.UserInterruption{Message: text}
	default:
		return domain.Message{}, err
	}

	msg := a.assistantMessage(resp)
	a.add(msg)
	a.cost += resp.Cost
	a.calls++
	return msg, nil
}

func (a *Agent) assistantMessage(resp domain.Response) domain.Message {
	msg := a.model.FormatMessage(domain.RoleAssistant, resp.Content)
	msg.Actions = resp.Actions
	msg.ToolCalls = resp.ToolCalls
	msg.Extra = map[string]any{"cost": resp.Cost}
	if resp.Model != "" {
		msg.Extra["model"] = resp.Model
	}
	if len(resp.Raw) > 0 {
		msg.Extra["response"] = resp.Raw
	}
	maps.Copy(msg.Extra, resp.Extra)
	return msg
}

// observe executes the message's actions in order and appends the
// resulting observation messages. The completion sentinel in any output
// ends the step with Submitted before observations are recorded.
func (a *Agent) observe(ctx context.Context, msg domain.Message) error {
	ectx, stop := a.watchInterrupts(ctx)
	defer stop()

	outputs := make([]domain.Observation, 0, len(msg.Actions))
	for _, action := range msg.Actions {
		a.status.OnAction(a.step, action)
		obs, err := a.env.Execute(ectx, action, ports.ExecOptions{})
		if err != nil {
			if _, interrupted := stop(); interrupted && ctx.Err() == nil {
				return fmt.Errorf("executing %q: %w", action.Command, context.Canceled)
			}
			return fmt.Errorf("executing %q: %w", action.Command, err)
		}
		a.status.OnObservation(a.step, obs)
		outputs = append(outputs, obs)
		if submission, ok := protocol.ExtractSubmission(unparsedOutput(obs)); ok {
			return &domain.Submitted{Submission: submission}
		}
	}

	obsMsgs, err := a.model.FormatObservationMessages(outputs, &msg)
	if err != nil {
		return fmt.Errorf("formatting observations: %w", err)
	}
	a.add(obsMsgs...)
	return nil
}

// unparsedOutput is what the command printed, before any environment
// replaced it with a summary.
func unparsedOutput(obs domain.Observation) string {
	if obs.RawOutput != "" {
		return obs.RawOutput
	}
	return obs.Output
}

// watchInterrupts derives a context that is cancelled when a human
// interrupt arrives. stop releases the watcher and reports whether an
// interrupt was consumed, with its note.
func (a *Agent) watchInterrupts(ctx context.Context) (context.Context, func() (string, bool)) {
	if a.interrupts == nil {
		return ctx, func() (string, bool) { return "", false }
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var (
		note string
		hit  bool
	)
	go func() {
		defer close(done)
		select {
		case n, ok := <-a.interrupts:
			if ok {
				note, hit = n, true
				cancel()
			}
		case <-wctx.Done():
		}
	}()
	var once sync.Once
	return wctx, func() (string, bool) {
		once.Do(func() {
			cancel()
			<-done
		})
		return note, hit
	}
}

// Save snapshots the run: outcome, model statistics, the full history and
// the configuration of agent, model and environment. exitInfo is merged
// into the info section.
func (a *Agent) Save(exitInfo map[string]any) domain.Trajectory {
	traj := domain.NewTrajectory()
	traj.Info.ModelStats = domain.ModelStats{Cost: a.cost, APICalls: a.calls}
	traj.Info.Apply(exitInfo)
	traj.Info.Config = map[string]any{
		"agent":            tmpl.ToMap(a.cfg),
		"model":            a.model.Serialize(),
		"environment":      a.env.Serialize(),
		"agent_type":       typeName(a),
		"model_type":       typeName(a.model),
		"environment_type": typeName(a.env),
	}
	traj.Messages = a.Messages()
	if traj.Messages == nil {
		traj.Messages = []domain.Message{}
	}
	return traj
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}
