package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yudai-dev/yudai/internal/domain"
)

func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case domain.ExitSubmitted:
		return lipgloss.Color("42")
	case domain.ExitInterrupted, domain.ExitLimitsExceeded:
		return lipgloss.Color("220")
	}
	return lipgloss.Color("196")
}

// renderSummary renders the end-of-run block written to stderr.
func renderSummary(run *domain.Run, noColor bool) string {
	label := func(s string) string { return stylize(fmt.Sprintf("%-11s", s), noColor, lipgloss.Color("244")) }
	lines := []string{
		stylize("Run "+run.ID, noColor, lipgloss.Color("33")),
		label("Status:") + stylize(run.ExitStatus, noColor, statusColor(run.ExitStatus)),
		label("Cost:") + fmt.Sprintf("$%.4f (%d calls)", run.Cost, run.APICalls),
		label("Duration:") + run.Duration().Round(100*time.Millisecond).String(),
	}
	if run.TrajectoryPath != "" {
		lines = append(lines, label("Trajectory:")+run.TrajectoryPath)
	}
	if run.ExitStatus != domain.ExitSubmitted && run.Submission != "" {
		lines = append(lines, label("Reason:")+firstLine(run.Submission))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
