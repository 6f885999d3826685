package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/crypto"
	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Chat payload formats.
const (
	FormatSlack   = "slack"
	FormatDiscord = "discord"
)

const defaultChatHeader = "Notification"

// ChatDriver posts records to an incoming-webhook URL (the record's
// recipient) in Slack block or Discord embed format.
type ChatDriver struct {
	format string
	client *http.Client
	signer *crypto.WebhookSigner
}

// NewChatDriver creates a ChatDriver. A zero timeout defaults to 10 seconds.
func NewChatDriver(format string, timeout time.Duration) *ChatDriver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if format != FormatDiscord {
		format = FormatSlack
	}
	return &ChatDriver{
		format: format,
		client: &http.Client{Timeout: timeout},
	}
}

// WithSigner makes the driver add HMAC signature headers to every request.
// A nil signer disables signing.
func (d *ChatDriver) WithSigner(s *crypto.WebhookSigner) *ChatDriver {
	d.signer = s
	return d
}

// Channel returns domain.ChannelChat.
func (d *ChatDriver) Channel() domain.Channel { return domain.ChannelChat }

// Send posts the message. Any non-2xx response is a failure whose message
// carries the response body.
func (d *ChatDriver) Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error {
	url := strings.TrimSpace(rec.Recipient)
	if url == "" {
		return fmt.Errorf("chat: %w", domain.ErrNoRecipient)
	}

	payload, err := json.Marshal(d.payload(subject, body))
	if err != nil {
		return fmt.Errorf("chat: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.signer != nil {
		for k, v := range d.signer.Headers(payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chat: webhook failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (d *ChatDriver) payload(subject, body string) any {
	header := subject
	if header == "" {
		header = defaultChatHeader
	}
	if d.format == FormatDiscord {
		return discordMessage{
			Content: header,
			Embeds:  []discordEmbed{{Title: header, Description: body}},
		}
	}
	return slackMessage{
		Text: header,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
		},
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}
