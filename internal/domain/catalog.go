package domain

import "time"

// EventSource is a named category of business event that may be triggered.
type EventSource struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"` // documentation only, never enforced
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Template is a named message body (and optional subject) for one channel.
// Both may contain {{field.path}} placeholders.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Channel   Channel   `json:"channel"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecipientConfig holds the static recipients of a rule plus the optional
// payload path naming a dynamic one.
type RecipientConfig struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Field      string `json:"field,omitempty"`
}

// Static returns the static recipient configured for ch.
func (r RecipientConfig) Static(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	case ChannelChat:
		return r.WebhookURL
	}
	return ""
}

// Rule binds an event source to a template and channel, with optional
// equality conditions on the payload.
type Rule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	EventSourceID string          `json:"event_source_id"`
	TemplateID    string          `json:"template_id"`
	Channel       Channel         `json:"channel"`
	Conditions    map[string]any  `json:"conditions,omitempty"`
	Recipients    RecipientConfig `json:"recipients"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	// Template is populated by stores that join the template in.
	Template *Template `json:"-"`
}
