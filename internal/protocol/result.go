package protocol

import (
	"strings"
	"unicode"
)

// SubmitSentinel, printed as the first line of a command's output, ends
// the run.
const SubmitSentinel = "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT"

// ExtractSubmission checks whether the first non-blank line of output is
// the sentinel. If so it returns everything after that line verbatim.
func ExtractSubmission(output string) (submission string, found bool) {
	trimmed := strings.TrimLeftFunc(output, unicode.IsSpace)
	if trimmed == "" {
		return "", false
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	if strings.TrimSpace(first) != SubmitSentinel {
		return "", false
	}
	return rest, true
}
