package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// EmailMessage is a fully rendered email ready for a transport.
type EmailMessage struct {
	From    string // RFC 5322 formatted, may include a display name
	To      string
	Subject string
	Body    string
}

// EmailTransport hands an EmailMessage to a mail service.
type EmailTransport interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// EmailDriver delivers records on the email channel.
type EmailDriver struct {
	transport EmailTransport
	from      string
}

// NewEmailDriver creates an EmailDriver sending as fromName <fromAddress>.
func NewEmailDriver(transport EmailTransport, fromAddress, fromName string) *EmailDriver {
	from := fromAddress
	if fromName != "" {
		from = (&mail.Address{Name: fromName, Address: fromAddress}).String()
	}
	return &EmailDriver{transport: transport, from: from}
}

// Channel returns domain.ChannelEmail.
func (d *EmailDriver) Channel() domain.Channel { return domain.ChannelEmail }

// Send rejects an empty recipient and otherwise passes the message to the
// transport.
func (d *EmailDriver) Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error {
	to := strings.TrimSpace(rec.Recipient)
	if to == "" {
		return fmt.Errorf("email: %w", domain.ErrNoRecipient)
	}
	if err := d.transport.SendEmail(ctx, EmailMessage{
		From:    d.from,
		To:      to,
		Subject: subject,
		Body:    body,
	}); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// SESTransport sends email through Amazon SES v2.
type SESTransport struct {
	client *sesv2.Client
}

// NewSESTransport creates an SESTransport from an AWS config.
func NewSESTransport(cfg aws.Config) *SESTransport {
	return &SESTransport{client: sesv2.NewFromConfig(cfg)}
}

// SendEmail sends msg as a plain-text simple message.
func (t *SESTransport) SendEmail(ctx context.Context, msg EmailMessage) error {
	_, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// LogEmailTransport writes messages to the log instead of sending them.
type LogEmailTransport struct {
	logger *slog.Logger
}

// NewLogEmailTransport creates a LogEmailTransport.
func NewLogEmailTransport(logger *slog.Logger) *LogEmailTransport {
	return &LogEmailTransport{logger: logger.With(slog.String("component", "email_log_transport"))}
}

// SendEmail logs msg and always succeeds.
func (t *LogEmailTransport) SendEmail(ctx context.Context, msg EmailMessage) error {
	t.logger.InfoContext(ctx, "email sent",
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_len", len(msg.Body)),
	)
	return nil
}
