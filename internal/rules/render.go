package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\s*[\w.]+\s*)\}\}`)

// Render substitutes every {{ path }} placeholder in text with the
// stringified payload value at that path. Placeholders whose path does not
// resolve are left untouched so broken templates stay visible in delivered
// content.
func Render(text string, payload map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := Lookup(payload, path)
		if !ok {
			return m
		}
		return Stringify(v)
	})
}

// Stringify renders a decoded JSON value for inclusion in message text.
// Numbers use their shortest form (42, not 42.000000), null is empty, and
// nested objects and arrays become compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
