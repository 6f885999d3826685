package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	"github.com/alanyoungcy/notifyhub/internal/channel"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/rules"
)

// OutcomeKind classifies the result of one delivery attempt.
type OutcomeKind int

const (
	// OutcomeNoop means nothing was attempted: the record is already sent,
	// another worker holds it, or it has no attempts left.
	OutcomeNoop OutcomeKind = iota
	OutcomeDelivered
	// OutcomeRetry means the attempt failed and the task should be
	// redelivered after Outcome.RetryAfter.
	OutcomeRetry
	// OutcomePermanentFailure means the attempt failed and the record has
	// reached the attempt ceiling.
	OutcomePermanentFailure
	// OutcomeConfigError means the record cannot be delivered until an
	// operator fixes the catalog or channel configuration.
	OutcomeConfigError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoop:
		return "noop"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRetry:
		return "retry"
	case OutcomePermanentFailure:
		return "permanent_failure"
	case OutcomeConfigError:
		return "config_error"
	}
	return "unknown"
}

// Outcome is what the worker tells its runner after one task.
type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
	// Err is the send or configuration failure, when there was one.
	Err error
}

// RetryPolicy holds the attempt ceiling and the backoff ladder.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy is three attempts spaced 1, 5 and 15 minutes apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
	}
}

// Delay returns the wait before the attempt following attempt number
// `attempt` (1-based). Past the end of the ladder the last step repeats.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// DriverSource resolves a channel to its driver. *channel.Registry
// satisfies it.
type DriverSource interface {
	Driver(ch domain.Channel) (channel.Driver, error)
}

// Alerter receives operator alerts. *alert.Alerter satisfies it.
type Alerter interface {
	Raise(ctx context.Context, a alert.Alert) error
}

// DeliveryWorker executes one delivery attempt per task. It is the only
// writer of a record's status after creation, and every write it makes is a
// conditional store transition.
type DeliveryWorker struct {
	deliveries domain.DeliveryStore
	catalog    domain.CatalogStore
	drivers    DriverSource
	policy     RetryPolicy
	bus        domain.SignalBus
	alerter    Alerter
	logger     *slog.Logger
	now        func() time.Time
}

// NewDeliveryWorker creates a DeliveryWorker. bus and alerter may be nil.
func NewDeliveryWorker(
	deliveries domain.DeliveryStore,
	catalog domain.CatalogStore,
	drivers DriverSource,
	policy RetryPolicy,
	bus domain.SignalBus,
	alerter Alerter,
	logger *slog.Logger,
) *DeliveryWorker {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	return &DeliveryWorker{
		deliveries: deliveries,
		catalog:    catalog,
		drivers:    drivers,
		policy:     policy,
		bus:        bus,
		alerter:    alerter,
		logger:     logger.With(slog.String("component", "delivery_worker")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one attempt for task. The returned error is reserved for
// store failures that left no transition written; send and configuration
// failures are reported through the Outcome.
func (w *DeliveryWorker) Process(ctx context.Context, task domain.DeliveryTask) (Outcome, error) {
	rec, err := w.deliveries.GetByID(ctx, task.RecordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.WarnContext(ctx, "task for unknown delivery record", slog.String("record_id", task.RecordID))
			return w.done(rec, Outcome{Kind: OutcomeNoop}), nil
		}
		return Outcome{}, fmt.Errorf("service: load delivery %s: %w", task.RecordID, err)
	}
	if !rec.Status.Claimable() {
		return w.done(rec, Outcome{Kind: OutcomeNoop}), nil
	}

	won, err := w.deliveries.Claim(ctx, rec.ID, rec.Status, w.policy.MaxAttempts)
	if err != nil {
		return Outcome{}, fmt.Errorf("service: claim delivery %s: %w", rec.ID, err)
	}
	if !won {
		w.logger.DebugContext(ctx, "claim lost or attempts exhausted",
			slog.String("record_id", rec.ID),
			slog.Int("attempts", rec.Attempts),
		)
		return w.done(rec, Outcome{Kind: OutcomeNoop}), nil
	}

	// Re-read so the attempt count and payload are the claimed ones.
	rec, err = w.deliveries.GetByID(ctx, rec.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("service: reload delivery %s: %w", task.RecordID, err)
	}
	publishEvent(ctx, w.bus, w.logger, rec)

	driver, subject, body, err := w.prepare(ctx, rec)
	if err != nil {
		return w.fail(ctx, rec, err)
	}

	if err := driver.Send(ctx, rec, subject, body); err != nil {
		return w.fail(ctx, rec, err)
	}

	sentAt := w.now()
	if err := w.deliveries.MarkSent(ctx, rec.ID, sentAt); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			// The reaper expired our lease while the send was in flight.
			w.logger.WarnContext(ctx, "sent after lease expiry", slog.String("record_id", rec.ID))
			return w.done(rec, Outcome{Kind: OutcomeNoop}), nil
		}
		return Outcome{}, fmt.Errorf("service: mark delivery %s sent: %w", rec.ID, err)
	}
	rec.Status = domain.StatusSent
	rec.SentAt = &sentAt
	rec.ErrorMessage = nil
	publishEvent(ctx, w.bus, w.logger, rec)

	w.logger.InfoContext(ctx, "delivery sent",
		slog.String("record_id", rec.ID),
		slog.String("channel", rec.Channel.String()),
		slog.Int("attempts", rec.Attempts),
	)
	return w.done(rec, Outcome{Kind: OutcomeDelivered}), nil
}

// prepare resolves the rule, template and driver and renders the message.
func (w *DeliveryWorker) prepare(ctx context.Context, rec domain.DeliveryRecord) (channel.Driver, string, string, error) {
	rule, err := w.catalog.GetRule(ctx, rec.RuleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", "", fmt.Errorf("rule %s: %w", rec.RuleID, domain.ErrTemplateMissing)
		}
		return nil, "", "", fmt.Errorf("load rule %s: %w", rec.RuleID, err)
	}
	if rule.Template == nil {
		return nil, "", "", fmt.Errorf("rule %s template %s: %w", rule.ID, rule.TemplateID, domain.ErrTemplateMissing)
	}

	driver, err := w.drivers.Driver(rec.Channel)
	if err != nil {
		return nil, "", "", err
	}

	subject := rules.Render(rule.Template.Subject, rec.Payload)
	body := rules.Render(rule.Template.Body, rec.Payload)
	return driver, subject, body, nil
}

// fail records cause on the claimed record and decides what happens next.
func (w *DeliveryWorker) fail(ctx context.Context, rec domain.DeliveryRecord, cause error) (Outcome, error) {
	reason := cause.Error()
	if err := w.deliveries.MarkFailed(ctx, rec.ID, reason); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			return w.done(rec, Outcome{Kind: OutcomeNoop}), nil
		}
		return Outcome{}, fmt.Errorf("service: mark delivery %s failed: %w", rec.ID, err)
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = &reason
	publishEvent(ctx, w.bus, w.logger, rec)

	attrs := []any{
		slog.String("record_id", rec.ID),
		slog.String("channel", rec.Channel.String()),
		slog.Int("attempts", rec.Attempts),
		slog.String("error", reason),
	}

	switch {
	case domain.IsConfigError(cause):
		w.logger.ErrorContext(ctx, "delivery configuration error", attrs...)
		w.raise(ctx, rec, alert.KindConfigError, "Notification configuration error", reason)
		return w.done(rec, Outcome{Kind: OutcomeConfigError, Err: cause}), nil

	case rec.Exhausted(w.policy.MaxAttempts):
		w.logger.ErrorContext(ctx, "delivery failed permanently", attrs...)
		w.raise(ctx, rec, alert.KindDeliveryFailed, "Notification delivery failed", reason)
		return w.done(rec, Outcome{Kind: OutcomePermanentFailure, Err: cause}), nil

	default:
		delay := w.policy.Delay(rec.Attempts)
		w.logger.WarnContext(ctx, "delivery attempt failed, will retry",
			append(attrs, slog.Duration("retry_after", delay))...)
		return w.done(rec, Outcome{Kind: OutcomeRetry, RetryAfter: delay, Err: cause}), nil
	}
}

func (w *DeliveryWorker) raise(ctx context.Context, rec domain.DeliveryRecord, kind alert.Kind, title, reason string) {
	if w.alerter == nil {
		return
	}
	err := w.alerter.Raise(ctx, alert.Alert{
		Kind:    kind,
		Title:   title,
		Message: reason,
		Fields: map[string]string{
			"record":   rec.ID,
			"rule":     rec.RuleID,
			"channel":  rec.Channel.String(),
			"attempts": strconv.Itoa(rec.Attempts),
		},
	})
	if err != nil {
		w.logger.WarnContext(ctx, "raise alert failed", slog.String("error", err.Error()))
	}
}

func (w *DeliveryWorker) done(rec domain.DeliveryRecord, out Outcome) Outcome {
	ch := rec.Channel.String()
	if ch == "" {
		ch = "unknown"
	}
	deliveryOutcomes.WithLabelValues(ch, out.Kind.String()).Inc()
	return out
}
