// Package tmpl renders prompt and message templates. Variables are looked
// up strictly: referencing a name that was not supplied is an error.
package tmpl

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"trim":  strings.TrimSpace,
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"default": func(def, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// Render evaluates text with the merge of vars; later maps override
// earlier ones.
func Render(text string, vars ...map[string]any) (string, error) {
	t, err := template.New("").Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, Merge(vars...)); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return b.String(), nil
}

// Merge flattens vars into one map with later keys winning.
func Merge(vars ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, v := range vars {
		maps.Copy(out, v)
	}
	return out
}

// ToMap converts a struct into template variables using its JSON field
// names. Values that cannot be encoded yield an empty map.
func ToMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
