// Package trajectory persists the record of a run.
package trajectory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/yudai-dev/yudai/internal/agent"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
)

// Exit describes how a run ended. Extra is merged into the info section.
type Exit struct {
	Status string
	Result string
	Extra  map[string]any
}

// FromResult builds an Exit from a loop result.
func FromResult(r domain.RunResult) Exit {
	return Exit{Status: r.ExitStatus, Result: r.Submission, Extra: maps.Clone(r.Extra)}
}

func (e Exit) info() map[string]any {
	info := map[string]any{}
	if e.Status != "" {
		info["exit_status"] = e.Status
	}
	if e.Result != "" {
		info["submission"] = e.Result
	}
	maps.Copy(info, e.Extra)
	return info
}

// Build snapshots a. A nil agent, for runs that failed before the agent
// existed, yields a placeholder with zero stats and no messages.
func Build(a *agent.Agent, exit Exit) domain.Trajectory {
	if a != nil {
		return a.Save(exit.info())
	}
	traj := domain.NewTrajectory()
	traj.Info.Apply(exit.info())
	return traj
}

// WriteFile stores traj as indented JSON, creating parent directories.
func WriteFile(path string, traj domain.Trajectory) error {
	data, err := json.MarshalIndent(traj, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trajectory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating trajectory directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing trajectory: %w", err)
	}
	return nil
}

func ReadFile(path string) (domain.Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Trajectory{}, fmt.Errorf("reading trajectory: %w", err)
	}
	return Decode(data)
}

func Decode(data []byte) (domain.Trajectory, error) {
	var traj domain.Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return domain.Trajectory{}, fmt.Errorf("decoding trajectory: %w", err)
	}
	return traj, nil
}

// Recorder writes trajectories to a file and, when Store is set, to the
// run store.
type Recorder struct {
	Store  ports.TrajectoryStore
	Logger *slog.Logger
}

// Record builds the trajectory and persists it. An empty path skips the
// file; an empty runID skips the store.
func (r *Recorder) Record(ctx context.Context, path, runID string, a *agent.Agent, exit Exit) (domain.Trajectory, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	traj := Build(a, exit)
	if path != "" {
		if err := WriteFile(path, traj); err != nil {
			return traj, err
		}
		logger.Info("saved trajectory", "path", path)
	}
	if r.Store != nil && runID != "" {
		data, err := json.Marshal(traj)
		if err != nil {
			return traj, fmt.Errorf("encoding trajectory: %w", err)
		}
		if err := r.Store.SaveTrajectory(ctx, runID, data); err != nil {
			return traj, fmt.Errorf("storing trajectory: %w", err)
		}
		logger.Debug("stored trajectory", "run_id", runID)
	}
	return traj, nil
}
