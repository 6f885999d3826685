// Package alert tells operators about deliveries that will never succeed
// without intervention: exhausted retries and configuration errors. Alerts fan
// out to every configured sender (Telegram, Discord).
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Kind classifies an alert.
type Kind string

const (
	KindDeliveryFailed Kind = "delivery_failed"
	KindConfigError    Kind = "config_error"
	KindArchiveFailed  Kind = "archive_failed"
)

// Alert is one operator-facing message.
type Alert struct {
	Kind    Kind
	Title   string
	Message string
	Fields  map[string]string
}

// Text renders the message followed by the fields in key order.
func (a Alert) Text() string {
	if len(a.Fields) == 0 {
		return a.Message
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	return b.String()
}

// Sender is one alert destination.
type Sender interface {
	Send(ctx context.Context, title, text string) error
	Name() string
}

// Alerter dispatches alerts to all senders. The zero value and a nil
// *Alerter drop every alert.
type Alerter struct {
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger
}

// New builds an Alerter. With no senders every alert is only logged.
func New(senders []Sender, logger *slog.Logger) *Alerter {
	return &Alerter{
		senders: senders,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// Raise sends a to every sender. A failing sender does not stop the rest;
// their errors are combined.
func (a *Alerter) Raise(ctx context.Context, al Alert) error {
	if a == nil {
		return nil
	}
	if a.logger != nil {
		a.logger.WarnContext(ctx, "operator alert",
			slog.String("kind", string(al.Kind)),
			slog.String("title", al.Title),
		)
	}
	if len(a.senders) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text := al.Text()
	var errs []string
	for _, s := range a.senders {
		if err := s.Send(ctx, al.Title, text); err != nil {
			a.logger.ErrorContext(ctx, "alert sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
