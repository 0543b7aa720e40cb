// Package template renders stored command and SQL templates against
// caller-supplied variables.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Render expands templateText against vars and returns the rendered text.
// A malformed template or a reference to a variable absent from vars is a
// rendering error; rendering has no side effects.
func Render(templateText string, vars map[string]string) (string, error) {
	tmpl, err := template.New("command").
		Funcs(templateFuncs()).
		Option("missingkey=error").
		Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("malformed template: %w", err)
	}

	if vars == nil {
		vars = map[string]string{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// IsTemplate reports whether text contains template syntax at all.
func IsTemplate(text string) bool {
	return strings.Contains(text, "{{") && strings.Contains(text, "}}")
}

// Validate parses templateText without executing it.
func Validate(templateText string) error {
	_, err := template.New("validation").Funcs(templateFuncs()).Parse(templateText)
	return err
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     cases.Title(language.English).String,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,
	}
}
