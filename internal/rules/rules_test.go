package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestLookup(t *testing.T) {
	payload := decode(t, `{
		"a": {"b": 5, "c": null},
		"items": [{"sku": "X1"}, {"sku": "X2"}],
		"dotted.key": "literal"
	}`)

	tests := []struct {
		name  string
		path  string
		want  any
		found bool
	}{
		{"nested", "a.b", float64(5), true},
		{"present null", "a.c", nil, true},
		{"slice index", "items.1.sku", "X2", true},
		{"slice out of range", "items.5.sku", nil, false},
		{"literal dotted key", "dotted.key", "literal", true},
		{"missing", "a.z", nil, false},
		{"through scalar", "a.b.c", nil, false},
		{"empty path", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(payload, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchEmptyConditionsAlwaysTrue(t *testing.T) {
	assert.True(t, Match(nil, nil))
	assert.True(t, Match(map[string]any{}, decode(t, `{"x": 1}`)))
}

func TestMatchIsStrictOnKind(t *testing.T) {
	conds := map[string]any{"a.b": 5}

	assert.True(t, Match(conds, decode(t, `{"a": {"b": 5}}`)))
	assert.False(t, Match(conds, decode(t, `{"a": {"b": "5"}}`)))
	assert.False(t, Match(conds, decode(t, `{"a": {}}`)))
	assert.False(t, Match(conds, decode(t, `{"a": {"b": 5.5}}`)))

	strConds := map[string]any{"status": "paid"}
	assert.True(t, Match(strConds, decode(t, `{"status": "paid"}`)))
	assert.False(t, Match(strConds, decode(t, `{"status": "PAID"}`)))

	boolConds := map[string]any{"vip": true}
	assert.True(t, Match(boolConds, decode(t, `{"vip": true}`)))
	assert.False(t, Match(boolConds, decode(t, `{"vip": "true"}`)))
	assert.False(t, Match(boolConds, decode(t, `{"vip": 1}`)))
}

func TestMatchNumbersAcrossRepresentations(t *testing.T) {
	payload := map[string]any{"n": json.Number("42")}
	assert.True(t, Match(map[string]any{"n": 42}, payload))
	assert.True(t, Match(map[string]any{"n": float64(42)}, payload))
	assert.True(t, Match(map[string]any{"n": int64(42)}, map[string]any{"n": 42.0}))
}

func TestMatchAllConditionsMustHold(t *testing.T) {
	conds := map[string]any{"status": "paid", "total": 100}
	assert.True(t, Match(conds, decode(t, `{"status": "paid", "total": 100}`)))
	assert.False(t, Match(conds, decode(t, `{"status": "paid", "total": 99}`)))
}

func TestMatchNullCondition(t *testing.T) {
	conds := map[string]any{"coupon": nil}
	assert.True(t, Match(conds, decode(t, `{"coupon": null}`)))
	assert.False(t, Match(conds, decode(t, `{}`)))
	assert.False(t, Match(conds, decode(t, `{"coupon": ""}`)))
}

func TestResolveRecipientFieldWins(t *testing.T) {
	rule := domain.Rule{
		Channel: domain.ChannelEmail,
		Recipients: domain.RecipientConfig{
			Email: "ops@example.com",
			Field: "customer.email",
		},
	}

	got, ok := ResolveRecipient(rule, decode(t, `{"customer": {"email": "ann@example.com"}}`))
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", got)

	got, ok = ResolveRecipient(rule, decode(t, `{"customer": {"email": ""}}`))
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", got)

	got, ok = ResolveRecipient(rule, decode(t, `{}`))
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", got)
}

func TestResolveRecipientPerChannelStatic(t *testing.T) {
	rc := domain.RecipientConfig{Email: "e@example.com", Phone: "+15550100", WebhookURL: "https://hooks.example.com/1"}

	for ch, want := range map[domain.Channel]string{
		domain.ChannelEmail: "e@example.com",
		domain.ChannelSMS:   "+15550100",
		domain.ChannelChat:  "https://hooks.example.com/1",
	} {
		got, ok := ResolveRecipient(domain.Rule{Channel: ch, Recipients: rc}, nil)
		require.True(t, ok, ch)
		assert.Equal(t, want, got, ch)
	}
}

func TestResolveRecipientNumericField(t *testing.T) {
	rule := domain.Rule{Channel: domain.ChannelSMS, Recipients: domain.RecipientConfig{Field: "phone"}}
	got, ok := ResolveRecipient(rule, decode(t, `{"phone": 15550100}`))
	require.True(t, ok)
	assert.Equal(t, "15550100", got)
}

func TestResolveRecipientNone(t *testing.T) {
	rule := domain.Rule{Channel: domain.ChannelSMS, Recipients: domain.RecipientConfig{Email: "e@example.com", Field: "phone"}}
	_, ok := ResolveRecipient(rule, decode(t, `{"phone": {"n": 1}}`))
	assert.False(t, ok)
}

func TestResolverDefaults(t *testing.T) {
	r := NewResolver(map[domain.Channel]string{
		domain.ChannelChat: "https://hooks.example.com/default",
		domain.ChannelSMS:  "  ",
	})

	got, ok := r.Resolve(domain.Rule{Channel: domain.ChannelChat}, nil)
	require.True(t, ok)
	assert.Equal(t, "https://hooks.example.com/default", got)

	_, ok = r.Resolve(domain.Rule{Channel: domain.ChannelSMS}, nil)
	assert.False(t, ok)

	got, ok = r.Resolve(domain.Rule{Channel: domain.ChannelChat, Recipients: domain.RecipientConfig{WebhookURL: "https://own"}}, nil)
	require.True(t, ok)
	assert.Equal(t, "https://own", got)
}

func TestRender(t *testing.T) {
	payload := decode(t, `{
		"name": "Ann",
		"id": 42,
		"total": 19.99,
		"paid": true,
		"note": null,
		"user": {"name": "Bob", "tags": ["a", "b"]}
	}`)

	tests := []struct {
		in, want string
	}{
		{"Hi {{name}}", "Hi Ann"},
		{"Hi {{ name }}", "Hi Ann"},
		{"Hi {{missing}}", "Hi {{missing}}"},
		{"Order {{id}} paid", "Order 42 paid"},
		{"Total {{total}}", "Total 19.99"},
		{"Paid: {{paid}}", "Paid: true"},
		{"Note: [{{note}}]", "Note: []"},
		{"{{user.name}} {{user.tags}}", `Bob ["a","b"]`},
		{"{{user.tags.0}}", "a"},
		{"no placeholders", "no placeholders"},
		{"{{ bad-path }}", "{{ bad-path }}"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Render(tt.in, payload), tt.in)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "0.5", Stringify(0.5))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "123456789012", Stringify(json.Number("123456789012")))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
