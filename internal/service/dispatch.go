package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/rules"
)

// ChannelSet reports which channels are enabled. *channel.Registry
// satisfies it.
type ChannelSet interface {
	Enabled(ch domain.Channel) bool
}

// TriggerResult summarises one TriggerEvent call.
type TriggerResult struct {
	Event       string   `json:"event"`
	Matched     int      `json:"matched"`
	Skipped     int      `json:"skipped"`
	DeliveryIDs []string `json:"delivery_ids"`
}

// DispatchService turns an incoming event into delivery records, one per
// matching rule, and hands each to the task queue.
type DispatchService struct {
	catalog    domain.CatalogStore
	deliveries domain.DeliveryStore
	queue      domain.TaskQueue
	channels   ChannelSet
	resolver   *rules.Resolver
	bus        domain.SignalBus
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatchService creates a DispatchService. bus may be nil.
func NewDispatchService(
	catalog domain.CatalogStore,
	deliveries domain.DeliveryStore,
	queue domain.TaskQueue,
	channels ChannelSet,
	resolver *rules.Resolver,
	bus domain.SignalBus,
	logger *slog.Logger,
) *DispatchService {
	return &DispatchService{
		catalog:    catalog,
		deliveries: deliveries,
		queue:      queue,
		channels:   channels,
		resolver:   resolver,
		bus:        bus,
		logger:     logger.With(slog.String("component", "dispatch")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TriggerEvent evaluates every active rule of the named source against
// payload. It returns domain.ErrEventSourceNotFound, and creates nothing, when
// the source does not exist or is inactive.
//
// Rules are independent: a rule that does not match, has no recipient or
// targets a disabled channel is skipped, and a store or queue error on one
// rule is logged without affecting the others. A record that was created but
// not enqueued is picked up later by the reaper.
func (s *DispatchService) TriggerEvent(ctx context.Context, sourceName string, payload map[string]any) (TriggerResult, error) {
	res := TriggerResult{Event: sourceName, DeliveryIDs: []string{}}

	src, err := s.catalog.GetSourceByName(ctx, sourceName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			eventsTriggered.WithLabelValues("not_found").Inc()
			return res, fmt.Errorf("service: trigger %q: %w", sourceName, domain.ErrEventSourceNotFound)
		}
		return res, fmt.Errorf("service: trigger %q: load source: %w", sourceName, err)
	}
	if !src.Active {
		eventsTriggered.WithLabelValues("inactive").Inc()
		return res, fmt.Errorf("service: trigger %q: %w", sourceName, domain.ErrEventSourceNotFound)
	}

	active, err := s.catalog.ActiveRules(ctx, src.ID)
	if err != nil {
		return res, fmt.Errorf("service: trigger %q: load rules: %w", sourceName, err)
	}
	eventsTriggered.WithLabelValues("accepted").Inc()

	snapshot, err := snapshotPayload(payload)
	if err != nil {
		return res, fmt.Errorf("service: trigger %q: %w", sourceName, err)
	}

	for _, rule := range active {
		id, reason := s.dispatchRule(ctx, src, rule, snapshot)
		if id == "" {
			res.Skipped++
			if reason != "" {
				ruleSkips.WithLabelValues(reason).Inc()
			}
			continue
		}
		res.Matched++
		res.DeliveryIDs = append(res.DeliveryIDs, id)
	}

	s.logger.InfoContext(ctx, "event dispatched",
		slog.String("event", sourceName),
		slog.Int("rules", len(active)),
		slog.Int("matched", res.Matched),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// dispatchRule returns the created record id, or "" and a skip reason.
func (s *DispatchService) dispatchRule(ctx context.Context, src domain.EventSource, rule domain.Rule, payload map[string]any) (string, string) {
	if !s.channels.Enabled(rule.Channel) {
		return "", "channel_disabled"
	}
	if !rules.Match(rule.Conditions, payload) {
		return "", "conditions"
	}
	recipient, ok := s.resolver.Resolve(rule, payload)
	if !ok {
		return "", "no_recipient"
	}

	now := s.now()
	rec := domain.DeliveryRecord{
		ID:            uuid.NewString(),
		EventSourceID: src.ID,
		RuleID:        rule.ID,
		Channel:       rule.Channel,
		Payload:       payload,
		Recipient:     recipient,
		Status:        domain.StatusPending,
		CreatedAt:     now,
	}
	if err := s.deliveries.Create(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "create delivery record failed",
			slog.String("rule_id", rule.ID),
			slog.String("error", err.Error()),
		)
		return "", "store_error"
	}
	deliveriesCreated.WithLabelValues(rule.Channel.String()).Inc()

	if err := s.queue.Enqueue(ctx, domain.DeliveryTask{RecordID: rec.ID, EnqueuedAt: now}); err != nil {
		s.logger.WarnContext(ctx, "enqueue delivery failed, leaving for reaper",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	publishEvent(ctx, s.bus, s.logger, rec)
	return rec.ID, ""
}

// snapshotPayload deep-copies the payload through JSON so the stored record
// never aliases caller memory. Numbers stay json.Number.
func snapshotPayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := decodeJSON(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
