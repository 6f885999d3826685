// Package catalog loads event sources, templates and rules from a YAML file
// into the catalog store, and can watch the file for changes.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// File is the on-disk catalog. Rules refer to sources and templates by name.
type File struct {
	Sources   []SourceSpec   `yaml:"sources"`
	Templates []TemplateSpec `yaml:"templates"`
	Rules     []RuleSpec     `yaml:"rules"`
}

type SourceSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
	Active      *bool          `yaml:"active"`
}

type TemplateSpec struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type RuleSpec struct {
	Name       string         `yaml:"name"`
	Source     string         `yaml:"source"`
	Template   string         `yaml:"template"`
	Channel    string         `yaml:"channel"`
	Conditions map[string]any `yaml:"conditions"`
	Recipients struct {
		Email      string `yaml:"email"`
		Phone      string `yaml:"phone"`
		WebhookURL string `yaml:"webhook_url"`
		Field      string `yaml:"field"`
	} `yaml:"recipients"`
	Active *bool `yaml:"active"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("catalog: yaml unmarshal: %w", err)
	}
	for i := range f.Sources {
		f.Sources[i].Schema = normalizeMap(f.Sources[i].Schema)
	}
	for i := range f.Rules {
		f.Rules[i].Conditions = normalizeMap(f.Rules[i].Conditions)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate reports every problem at once: missing or duplicate names,
// unknown channels, dangling references and template/rule channel mismatches.
func (f File) Validate() error {
	var errs []string
	addf := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	sources := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		switch {
		case strings.TrimSpace(s.Name) == "":
			addf("sources[%d]: name is required", i)
		case sources[s.Name]:
			addf("sources[%d]: duplicate name %q", i, s.Name)
		}
		sources[s.Name] = true
	}

	templates := make(map[string]domain.Channel, len(f.Templates))
	for i, t := range f.Templates {
		ch, err := domain.ParseChannel(t.Channel)
		if err != nil {
			addf("templates[%d] %q: %v", i, t.Name, err)
		}
		switch {
		case strings.TrimSpace(t.Name) == "":
			addf("templates[%d]: name is required", i)
		case templates[t.Name] != "":
			addf("templates[%d]: duplicate name %q", i, t.Name)
		}
		if strings.TrimSpace(t.Body) == "" {
			addf("templates[%d] %q: body is required", i, t.Name)
		}
		templates[t.Name] = ch
	}

	rules := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		switch {
		case strings.TrimSpace(r.Name) == "":
			addf("rules[%d]: name is required", i)
		case rules[r.Name]:
			addf("rules[%d]: duplicate name %q", i, r.Name)
		}
		rules[r.Name] = true

		if !sources[r.Source] {
			addf("rules[%d] %q: unknown source %q", i, r.Name, r.Source)
		}
		tplCh, ok := templates[r.Template]
		if !ok {
			addf("rules[%d] %q: unknown template %q", i, r.Name, r.Template)
		}
		ch, err := domain.ParseChannel(r.Channel)
		if err != nil {
			addf("rules[%d] %q: %v", i, r.Name, err)
			continue
		}
		if ok && tplCh != "" && tplCh != ch {
			addf("rules[%d] %q: channel %s does not match template channel %s", i, r.Name, ch, tplCh)
		}
	}

	if len(errs) > 0 {
		return errors.New("catalog: invalid:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// normalizeMap makes every nested mapping a map[string]any, as the rule
// matcher expects.
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeValue(v)
		}
		return m
	case map[string]any:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeValue(x[i])
		}
		return out
	}
	return in
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
