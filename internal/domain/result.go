package domain

const (
	ExitSubmitted      = "Submitted"
	ExitLimitsExceeded = "LimitsExceeded"
	ExitInterrupted    = "Interrupted"
)

// RunResult is the terminal outcome of one agent run.
type RunResult struct {
	ExitStatus string         `json:"exit_status"`
	Submission string         `json:"submission"`
	Extra      map[string]any `json:"-"`
}

// Info returns the result as a flat map suitable for merging into a
// trajectory record.
func (r RunResult) Info() map[string]any {
	info := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		info[k] = v
	}
	info["exit_status"] = r.ExitStatus
	info["submission"] = r.Submission
	return info
}
