package domain

import "time"

type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	RunStateCancelled RunState = "cancelled"
)

// Run is the bookkeeping record of one agent episode as it is persisted
// alongside its trajectory.
type Run struct {
	ID             string
	Task           string
	ModelName      string
	State          RunState
	ExitStatus     string
	Submission     string
	Cost           float64
	APICalls       int
	StartedAt      time.Time
	CompletedAt    time.Time
	TrajectoryPath string
}

func NewRun(id, task string) *Run {
	return &Run{
		ID:    id,
		Task:  task,
		State: RunStatePending,
	}
}

func (r *Run) Start() {
	r.State = RunStateRunning
	r.StartedAt = time.Now()
}

// Finish records the terminal result and maps the exit status onto a run
// state.
func (r *Run) Finish(result RunResult, cost float64, calls int) {
	r.ExitStatus = result.ExitStatus
	r.Submission = result.Submission
	r.Cost = cost
	r.APICalls = calls
	r.CompletedAt = time.Now()
	switch result.ExitStatus {
	case ExitSubmitted:
		r.State = RunStateSucceeded
	case ExitInterrupted:
		r.State = RunStateCancelled
	default:
		r.State = RunStateFailed
	}
}

func (r *Run) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
