package actions

import (
	"regexp"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/tmpl"
)

// FormatToolObservations renders one tool-role message per output, paired
// by position with the actions of msg and keyed by their tool call ids.
func FormatToolObservations(outputs []domain.Observation, msg *domain.Message, template string, vars map[string]any) ([]domain.Message, error) {
	var acts []domain.Action
	if msg != nil {
		acts = msg.Actions
	}
	n := min(len(acts), len(outputs))
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		content, err := tmpl.Render(template, vars, map[string]any{
			"output": tmpl.ToMap(outputs[i]),
			"action": tmpl.ToMap(acts[i]),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Message{
			Role:       domain.RoleTool,
			ToolCallID: acts[i].ToolCallID,
			Content:    domain.TextContent(content),
		})
	}
	return out, nil
}

// FormatTextObservations renders one user-role message per output.
func FormatTextObservations(outputs []domain.Observation, template string, vars map[string]any) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(outputs))
	for _, o := range outputs {
		content, err := tmpl.Render(template, vars, map[string]any{"output": tmpl.ToMap(o)})
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Message{Role: domain.RoleUser, Content: domain.TextContent(content)})
	}
	return out, nil
}

// ExpandMultimodal splits content around matches of re, turning each match
// into an image part. The URL is taken from a group named "url" or else the
// first group. Without a regex or a match the content stays plain text.
func ExpandMultimodal(content string, re *regexp.Regexp) domain.Content {
	if re == nil {
		return domain.TextContent(content)
	}
	locs := re.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return domain.TextContent(content)
	}
	urlGroup := re.SubexpIndex("url")
	if urlGroup < 0 && re.NumSubexp() > 0 {
		urlGroup = 1
	}
	var parts []domain.ContentPart
	last := 0
	for _, loc := range locs {
		if loc[0] > last {
			parts = append(parts, domain.ContentPart{Type: "text", Text: content[last:loc[0]]})
		}
		if urlGroup > 0 && loc[2*urlGroup] >= 0 {
			url := content[loc[2*urlGroup]:loc[2*urlGroup+1]]
			if url != "" {
				parts = append(parts, domain.ContentPart{Type: "image_url", ImageURL: &domain.ImageURL{URL: url}})
			}
		}
		last = loc[1]
	}
	if last < len(content) {
		parts = append(parts, domain.ContentPart{Type: "text", Text: content[last:]})
	}
	return domain.Content{Parts: parts}
}
