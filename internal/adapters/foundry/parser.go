package foundry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yudai-dev/yudai/internal/domain"
)

var (
	solcErrorBlock = regexp.MustCompile(`(?s)(?:Error|ParserError|TypeError|CompilerError|DeclarationError|SyntaxError)` +
		`(?:\s*\(\d+\))?:\s*(?P<msg>.+?)\n\s*-->\s*(?P<file>[^:]+):(?P<line>\d+):\d+`)
	forgeTestResult = regexp.MustCompile(`(?i)Test result:\s*(?P<status>ok|FAILED)\.\s*` +
		`(?P<passed>\d+)\s+passed;\s*(?P<failed>\d+)\s+failed;\s*(?P<skipped>\d+)\s+skipped`)
	forgeFail    = regexp.MustCompile(`(?i)\[FAIL(?::\s*(?P<reason>[^\]]+))?\]\s*(?P<name>\S+)`)
	anvilListen  = regexp.MustCompile(`(?i)Listening on\s+(?P<addr>\S+)`)
	txHash       = regexp.MustCompile(`(?:Transaction hash|tx hash|hash):\s*(0x[a-fA-F0-9]{64})`)
	subcmdSplit  = regexp.MustCompile(`\s*&&\s*|\s*;\s*`)
	kindPatterns = []struct {
		kind string
		re   *regexp.Regexp
	}{
		{"forge_build", regexp.MustCompile(`\bforge\s+build\b`)},
		{"forge_test", regexp.MustCompile(`\bforge\s+test\b`)},
		{"forge_script", regexp.MustCompile(`\bforge\s+script\b`)},
		{"slither", regexp.MustCompile(`\bslither\b`)},
		{"cast_call", regexp.MustCompile(`\bcast\s+call\b`)},
		{"cast_send", regexp.MustCompile(`\bcast\s+send\b`)},
		{"cast_balance", regexp.MustCompile(`\bcast\s+balance\b`)},
		{"anvil", regexp.MustCompile(`\banvil\b`)},
	}
)

// CommandParser condenses the output of common Foundry and chain tools.
type CommandParser struct{}

// Parse returns a digest of obs, or nil when command is not a recognized
// tool invocation.
func (CommandParser) Parse(command string, obs domain.Observation) *domain.ParsedOutput {
	cmd := strings.Join(strings.Fields(command), " ")
	out, rc := obs.Output, obs.ReturnCode
	switch detectKind(cmd) {
	case "forge_build":
		return parseForgeBuild(out, rc)
	case "forge_test":
		return parseForgeTest(out, rc)
	case "forge_script":
		return parseForgeScript(out, rc)
	case "slither":
		return parseSlither(out, rc)
	case "cast_call":
		return firstLineSummary("cast_call", "cast call", out, rc)
	case "cast_send":
		return parseCastSend(out, rc)
	case "cast_balance":
		return firstLineSummary("cast_balance", "cast balance", out, rc)
	case "anvil":
		return parseAnvil(out, rc)
	}
	return nil
}

// detectKind returns the kind of the first sub-command that matches.
func detectKind(cmd string) string {
	for _, sub := range subcmdSplit.Split(cmd, -1) {
		for _, p := range kindPatterns {
			if p.re.MatchString(sub) {
				return p.kind
			}
		}
	}
	return ""
}

func parsed(kind, summary string, details map[string]any) *domain.ParsedOutput {
	if details == nil {
		details = map[string]any{}
	}
	return &domain.ParsedOutput{Tool: kind, Summary: summary, Details: details}
}

type solcError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func parseForgeBuild(out string, rc int) *domain.ParsedOutput {
	if rc == 0 {
		return parsed("forge_build", "forge build: success", nil)
	}
	var errs []solcError
	for _, m := range solcErrorBlock.FindAllStringSubmatch(out, -1) {
		line, _ := strconv.Atoi(m[solcErrorBlock.SubexpIndex("line")])
		msg := strings.TrimSpace(m[solcErrorBlock.SubexpIndex("msg")])
		msg, _, _ = strings.Cut(msg, "\n")
		errs = append(errs, solcError{
			File:    strings.TrimSpace(m[solcErrorBlock.SubexpIndex("file")]),
			Line:    line,
			Message: msg,
		})
	}
	if len(errs) == 0 {
		return parsed("forge_build", "forge build: failed (no parser match)", nil)
	}
	lines := []string{fmt.Sprintf("forge build: failed (%d error(s))", len(errs))}
	for _, e := range errs[:min(3, len(errs))] {
		lines = append(lines, fmt.Sprintf("- %s:%d %s", e.File, e.Line, e.Message))
	}
	return parsed("forge_build", strings.Join(lines, "\n"), map[string]any{"errors": errs})
}

type testFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func parseForgeTest(out string, rc int) *domain.ParsedOutput {
	var lines []string
	if m := forgeTestResult.FindStringSubmatch(out); m != nil {
		lines = append(lines, fmt.Sprintf("forge test: %s passed, %s failed, %s skipped",
			m[forgeTestResult.SubexpIndex("passed")],
			m[forgeTestResult.SubexpIndex("failed")],
			m[forgeTestResult.SubexpIndex("skipped")]))
	} else if rc != 0 {
		lines = append(lines, "forge test: failed")
	} else {
		lines = append(lines, "forge test: completed")
	}

	failures := []testFailure{}
	for _, m := range forgeFail.FindAllStringSubmatch(out, -1) {
		failures = append(failures, testFailure{
			Name:   m[forgeFail.SubexpIndex("name")],
			Reason: strings.TrimSpace(m[forgeFail.SubexpIndex("reason")]),
		})
	}
	if len(failures) > 0 {
		lines = append(lines, "failing tests:")
		for _, f := range failures[:min(3, len(failures))] {
			if f.Reason != "" {
				lines = append(lines, fmt.Sprintf("- %s - %s", f.Name, f.Reason))
			} else {
				lines = append(lines, "- "+f.Name)
			}
		}
	}
	return parsed("forge_test", strings.Join(lines, "\n"), map[string]any{"failures": failures})
}

func parseForgeScript(out string, rc int) *domain.ParsedOutput {
	if rc != 0 {
		if line := firstErrorLine(out); line != "" {
			return parsed("forge_script", "forge script: failed - "+line, nil)
		}
		return parsed("forge_script", "forge script: failed", nil)
	}
	if m := txHash.FindStringSubmatch(out); m != nil {
		return parsed("forge_script", fmt.Sprintf("forge script: success (tx %s)", m[1]), nil)
	}
	return parsed("forge_script", "forge script: success", nil)
}

type slitherReport struct {
	Results struct {
		Detectors []struct {
			Impact string `json:"impact"`
		} `json:"detectors"`
	} `json:"results"`
}

func parseSlither(out string, rc int) *domain.ParsedOutput {
	if report, ok := extractJSON(out); ok {
		counts := map[string]int{}
		for _, d := range report.Results.Detectors {
			impact := strings.ToLower(d.Impact)
			if impact == "" {
				impact = "unknown"
			}
			counts[impact]++
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%d", k, counts[k]))
		}
		summary := fmt.Sprintf("slither: %d findings", len(report.Results.Detectors))
		if len(pairs) > 0 {
			summary += "\n" + strings.Join(pairs, ", ")
		}
		return parsed("slither", summary, map[string]any{"counts": counts})
	}
	if rc != 0 {
		return parsed("slither", "slither: failed", nil)
	}
	return parsed("slither", "slither: completed", nil)
}

func parseCastSend(out string, rc int) *domain.ParsedOutput {
	if rc != 0 {
		return parsed("cast_send", "cast send: failed", nil)
	}
	if m := txHash.FindStringSubmatch(out); m != nil {
		return parsed("cast_send", "cast send: "+m[1], nil)
	}
	return parsed("cast_send", "cast send: success", nil)
}

func firstLineSummary(kind, label, out string, rc int) *domain.ParsedOutput {
	if rc != 0 {
		return parsed(kind, label+": failed", nil)
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return parsed(kind, label+": success", nil)
	}
	first, _, _ := strings.Cut(trimmed, "\n")
	return parsed(kind, label+": "+first, nil)
}

func parseAnvil(out string, rc int) *domain.ParsedOutput {
	if rc != 0 {
		return parsed("anvil", "anvil: failed", nil)
	}
	if m := anvilListen.FindStringSubmatch(out); m != nil {
		return parsed("anvil", "anvil: listening on "+m[anvilListen.SubexpIndex("addr")], nil)
	}
	return parsed("anvil", "anvil: started", nil)
}

func extractJSON(out string) (slitherReport, bool) {
	var report slitherReport
	start, end := strings.Index(out, "{"), strings.LastIndex(out, "}")
	if start == -1 || end <= start {
		return report, false
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &report); err != nil {
		return report, false
	}
	return report, true
}

func firstErrorLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "revert") {
			return truncate(line, 200)
		}
	}
	return ""
}
