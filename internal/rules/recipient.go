package rules

import (
	"strings"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// ResolveRecipient picks the destination for one rule and payload. A
// non-empty value at the rule's recipient field wins; otherwise the rule's
// static recipient for its channel is used. ok is false when neither yields
// anything.
func ResolveRecipient(rule domain.Rule, payload map[string]any) (string, bool) {
	if field := rule.Recipients.Field; field != "" {
		if v, found := Lookup(payload, field); found {
			if s, usable := recipientString(v); usable {
				return s, true
			}
		}
	}
	if s := strings.TrimSpace(rule.Recipients.Static(rule.Channel)); s != "" {
		return s, true
	}
	return "", false
}

// recipientString accepts non-empty strings and numbers (phone numbers are
// often sent as JSON numbers). Anything else is ignored.
func recipientString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	if _, ok := toNumber(v); ok {
		return Stringify(v), true
	}
	return "", false
}

// Resolver adds per-channel configuration defaults on top of
// ResolveRecipient, e.g. a default chat webhook used when a rule names none.
type Resolver struct {
	defaults map[domain.Channel]string
}

// NewResolver creates a Resolver with the given per-channel fallbacks. Empty
// values are ignored.
func NewResolver(defaults map[domain.Channel]string) *Resolver {
	d := make(map[domain.Channel]string, len(defaults))
	for ch, v := range defaults {
		if v = strings.TrimSpace(v); v != "" {
			d[ch] = v
		}
	}
	return &Resolver{defaults: d}
}

// Resolve returns the recipient for rule, falling back to the configured
// channel default.
func (r *Resolver) Resolve(rule domain.Rule, payload map[string]any) (string, bool) {
	if s, ok := ResolveRecipient(rule, payload); ok {
		return s, true
	}
	if r == nil {
		return "", false
	}
	s, ok := r.defaults[rule.Channel]
	return s, ok
}
