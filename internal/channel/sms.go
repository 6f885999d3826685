package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// SMSTransport sends a text message to a phone number.
type SMSTransport interface {
	SendSMS(ctx context.Context, to, text string) error
}

// SMSDriver delivers records on the sms channel. SMS has no subject; it is
// prepended to the body when present.
type SMSDriver struct {
	transport SMSTransport
}

// NewSMSDriver creates an SMSDriver over transport.
func NewSMSDriver(transport SMSTransport) *SMSDriver {
	return &SMSDriver{transport: transport}
}

// Channel returns domain.ChannelSMS.
func (d *SMSDriver) Channel() domain.Channel { return domain.ChannelSMS }

// Send rejects an empty recipient and otherwise passes the text on.
func (d *SMSDriver) Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error {
	to := strings.TrimSpace(rec.Recipient)
	if to == "" {
		return fmt.Errorf("sms: %w", domain.ErrNoRecipient)
	}
	text := body
	if subject != "" {
		text = subject + ": " + body
	}
	if err := d.transport.SendSMS(ctx, to, text); err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	return nil
}

// LogSMSTransport logs messages instead of sending them. It is the default
// until a carrier integration is configured.
type LogSMSTransport struct {
	logger *slog.Logger
}

// NewLogSMSTransport creates a LogSMSTransport.
func NewLogSMSTransport(logger *slog.Logger) *LogSMSTransport {
	return &LogSMSTransport{logger: logger.With(slog.String("component", "sms_log_transport"))}
}

// SendSMS logs the message and always succeeds.
func (t *LogSMSTransport) SendSMS(ctx context.Context, to, text string) error {
	t.logger.InfoContext(ctx, "sms sent",
		slog.String("to", to),
		slog.String("text", text),
	)
	return nil
}
