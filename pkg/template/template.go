// Package template renders {{field}} placeholders in workflow message and
// prompt templates from the order's field values.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes every {{field}} placeholder with the matching value
// from data. Unknown fields render as an empty string rather than failing:
// published definitions keep working when an order arrives without an
// optional field.
func Render(input string, data map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		field := strings.TrimSpace(match[2 : len(match)-2])

		value, ok := data[field]
		if !ok || value == nil {
			return ""
		}

		return fmt.Sprint(value)
	})
}

// Fields returns the placeholder names referenced by the template, used by
// publish-time validation to surface typos early.
func Fields(input string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(input, -1)
	fields := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))

	for _, m := range matches {
		name := m[1]
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}
		fields = append(fields, name)
	}

	return fields
}
