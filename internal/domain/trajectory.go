package domain

import (
	"encoding/json"
	"fmt"
	"maps"
)

// TrajectoryFormat tags the on-disk layout of a Trajectory.
const TrajectoryFormat = "yudai-1"

// Version is stamped into every trajectory. It is overridden at link time.
var Version = "dev"

type ModelStats struct {
	Cost     float64 `json:"cost"`
	APICalls int     `json:"api_calls"`
}

// TrajectoryInfo is the run outcome and configuration snapshot. Extra
// holds caller supplied fields; on encoding they never shadow the named
// ones.
type TrajectoryInfo struct {
	ExitStatus string         `json:"exit_status"`
	Submission string         `json:"submission"`
	ModelStats ModelStats     `json:"model_stats"`
	Version    string         `json:"version"`
	Config     map[string]any `json:"config,omitempty"`
	Extra      map[string]any `json:"-"`
}

var infoKeys = []string{"exit_status", "submission", "model_stats", "version", "config"}

func (i TrajectoryInfo) MarshalJSON() ([]byte, error) {
	type plain TrajectoryInfo
	base, err := json.Marshal(plain(i))
	if err != nil {
		return nil, err
	}
	if len(i.Extra) == 0 {
		return base, nil
	}
	out := map[string]json.RawMessage{}
	for k, v := range i.Extra {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding info field %q: %w", k, err)
		}
		out[k] = data
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	maps.Copy(out, fields)
	return json.Marshal(out)
}

func (i *TrajectoryInfo) UnmarshalJSON(data []byte) error {
	type plain TrajectoryInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range infoKeys {
		delete(all, k)
	}
	*i = TrajectoryInfo(p)
	if len(all) > 0 {
		i.Extra = all
	}
	return nil
}

// Apply merges exit information into the record. exit_status and
// submission update the named fields unless nil; other keys land in
// Extra.
func (i *TrajectoryInfo) Apply(exitInfo map[string]any) {
	for k, v := range exitInfo {
		switch k {
		case "exit_status":
			if v != nil {
				i.ExitStatus = fmt.Sprint(v)
			}
		case "submission":
			if v != nil {
				i.Submission = fmt.Sprint(v)
			}
		default:
			if i.Extra == nil {
				i.Extra = map[string]any{}
			}
			i.Extra[k] = v
		}
	}
}

// Trajectory is the persisted record of one run.
type Trajectory struct {
	Info             TrajectoryInfo `json:"info"`
	Messages         []Message      `json:"messages"`
	TrajectoryFormat string         `json:"trajectory_format"`
}

// NewTrajectory returns a record with the default, not yet finished,
// outcome.
func NewTrajectory() Trajectory {
	return Trajectory{
		Info: TrajectoryInfo{
			ExitStatus: "unknown",
			Version:    Version,
		},
		Messages:         []Message{},
		TrajectoryFormat: TrajectoryFormat,
	}
}
