package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yudai-dev/yudai/internal/adapters/sqlite"
	"github.com/yudai-dev/yudai/internal/config"
	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/ports"
	"github.com/yudai-dev/yudai/internal/trajectory"
)

func trajectoriesCmd() *cobra.Command {
	var configPath, storePath string
	cmd := &cobra.Command{
		Use:     "trajectories",
		Aliases: []string{"traj"},
		Short:   "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "yudai.toml", "configuration file naming the store")
	cmd.PersistentFlags().StringVar(&storePath, "store", "", "sqlite run database (overrides output.store)")

	open := func() (*sqlite.Store, error) {
		path := storePath
		if path == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, err
			}
			path = cfg.Output.Store
		}
		if path == "" {
			return nil, errors.New("no run store configured (set output.store or --store)")
		}
		return sqlite.NewStore(path)
	}

	var jsonOutput bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return listRuns(cmd.Context(), store, cmd.OutOrStdout(), jsonOutput)
		},
	}
	list.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	var messages bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the trajectory of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return showTrajectory(cmd.Context(), store, args[0], cmd.OutOrStdout(), messages)
		},
	}
	show.Flags().BoolVar(&messages, "messages", false, "print the conversation instead of the raw document")

	cmd.AddCommand(list, show)
	return cmd
}

type runRow struct {
	ID         string  `json:"id"`
	Task       string  `json:"task"`
	Model      string  `json:"model"`
	State      string  `json:"state"`
	ExitStatus string  `json:"exit_status"`
	Cost       float64 `json:"cost"`
	APICalls   int     `json:"api_calls"`
	StartedAt  string  `json:"started_at"`
}

func listRuns(ctx context.Context, store ports.RunStore, out io.Writer, jsonOutput bool) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, runRow{
			ID:         r.ID,
			Task:       r.Task,
			Model:      r.ModelName,
			State:      string(r.State),
			ExitStatus: r.ExitStatus,
			Cost:       r.Cost,
			APICalls:   r.APICalls,
			StartedAt:  r.StartedAt.Format(time.RFC3339),
		})
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tEXIT\tCOST\tCALLS\tSTARTED\tTASK")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t$%.4f\t%d\t%s\t%s\n", r.ID, r.State, r.ExitStatus, r.Cost, r.APICalls, r.StartedAt, truncate(firstLine(r.Task), 40))
	}
	return tw.Flush()
}

func showTrajectory(ctx context.Context, store ports.TrajectoryStore, runID string, out io.Writer, messages bool) error {
	data, err := store.GetTrajectory(ctx, runID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return fmt.Errorf("no trajectory recorded for run %s", runID)
	}
	if err != nil {
		return err
	}
	if !messages {
		_, err := out.Write(append(data, '\n'))
		return err
	}
	traj, err := trajectory.Decode(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exit_status: %s\ncost: $%.4f (%d calls)\n", traj.Info.ExitStatus, traj.Info.ModelStats.Cost, traj.Info.ModelStats.APICalls)
	for _, m := range traj.Messages {
		fmt.Fprintf(out, "\n--- %s ---\n%s\n", m.Role, messageText(m))
	}
	return nil
}

func messageText(m domain.Message) string {
	if text := m.Content.String(); text != "" {
		return text
	}
	parts := make([]string, 0, len(m.ToolCalls))
	for _, call := range m.ToolCalls {
		parts = append(parts, call.Function.Name+" "+string(call.Function.Arguments))
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
