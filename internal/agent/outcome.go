package agent

import "github.com/yudai-dev/yudai/internal/domain"

type OutcomeKind int

const (
	// Continue means the step completed and the loop proceeds.
	Continue OutcomeKind = iota
	// Recovered means a format error or user interruption was absorbed.
	Recovered
	// Terminal means the run is over and Result is set.
	Terminal
)

func (k OutcomeKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Recovered:
		return "recovered"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

// StepOutcome is the result of one query, execute and observe cycle.
type StepOutcome struct {
	Kind OutcomeKind
	// Messages are those appended to the history during the step.
	Messages []domain.Message
	// Signal is the flow-control error behind a Recovered or Terminal
	// outcome.
	Signal error
	Result domain.RunResult
}
