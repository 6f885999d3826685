package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	"github.com/alanyoungcy/notifyhub/internal/channel"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/memory"
	"github.com/alanyoungcy/notifyhub/internal/rules"
)

type sentMessage struct {
	recipient string
	subject   string
	body      string
}

type fakeDriver struct {
	ch   domain.Channel
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (d *fakeDriver) Channel() domain.Channel { return d.ch }

func (d *fakeDriver) Send(_ context.Context, rec domain.DeliveryRecord, subject, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{recipient: rec.Recipient, subject: subject, body: body})
	return d.err
}

func (d *fakeDriver) calls() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *recordingAlerter) Raise(_ context.Context, al alert.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

type harness struct {
	catalog    *memory.CatalogStore
	deliveries *memory.DeliveryStore
	queue      *memory.Queue
	bus        *memory.Bus
	email      *fakeDriver
	alerter    *recordingAlerter
	dispatch   *DispatchService
	worker     *DeliveryWorker
	logs       *LogService
	source     domain.EventSource
	template   domain.Template
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness seeds the order_created source with one email rule matching
// status == "paid".
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		catalog:    memory.NewCatalogStore(),
		deliveries: memory.NewDeliveryStore(),
		queue:      memory.NewQueue(),
		bus:        memory.NewBus(),
		email:      &fakeDriver{ch: domain.ChannelEmail},
		alerter:    &recordingAlerter{},
	}
	t.Cleanup(func() { _ = h.queue.Close() })

	var err error
	h.source, err = h.catalog.UpsertSource(ctx, domain.EventSource{Name: "order_created", Active: true})
	require.NoError(t, err)
	h.template, err = h.catalog.UpsertTemplate(ctx, domain.Template{
		Name:    "order_paid",
		Channel: domain.ChannelEmail,
		Subject: "Order {{ id }}",
		Body:    "Order {{id}} paid",
	})
	require.NoError(t, err)
	_, err = h.catalog.UpsertRule(ctx, domain.Rule{
		Name:          "paid_orders",
		EventSourceID: h.source.ID,
		TemplateID:    h.template.ID,
		Channel:       domain.ChannelEmail,
		Conditions:    map[string]any{"status": "paid"},
		Recipients:    domain.RecipientConfig{Email: "ops@example.com"},
		Active:        true,
	})
	require.NoError(t, err)

	registry := channel.NewRegistry(map[domain.Channel]channel.Factory{
		domain.ChannelEmail: func() (channel.Driver, error) { return h.email, nil },
	})
	h.dispatch = NewDispatchService(h.catalog, h.deliveries, h.queue, registry, rules.NewResolver(nil), h.bus, quietLogger())
	h.worker = NewDeliveryWorker(h.deliveries, h.catalog, registry, DefaultRetryPolicy(), h.bus, h.alerter, quietLogger())
	h.logs = NewLogService(h.deliveries, h.catalog)
	return h
}

func (h *harness) receive(t *testing.T) domain.DeliveryTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	qt, err := h.queue.Receive(ctx)
	require.NoError(t, err)
	return qt.Task
}

func TestOrderCreatedEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 42})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.DeliveryIDs, 1)

	rec, err := h.deliveries.GetByID(ctx, res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "ops@example.com", rec.Recipient)
	assert.Equal(t, h.source.ID, rec.EventSourceID)

	task := h.receive(t)
	assert.Equal(t, rec.ID, task.RecordID)

	out, err := h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out.Kind)

	calls := h.email.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Order 42 paid", calls[0].body)
	assert.Equal(t, "Order 42", calls[0].subject)

	rec, err = h.deliveries.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.NotNil(t, rec.SentAt)
	assert.Nil(t, rec.ErrorMessage)

	res, err = h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "pending", "id": 43})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.DeliveryIDs)

	page, err := h.logs.List(ctx, domain.DeliveryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestTriggerUnknownOrInactiveSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatch.TriggerEvent(ctx, "nope", map[string]any{"status": "paid"})
	assert.ErrorIs(t, err, domain.ErrEventSourceNotFound)

	src := h.source
	src.Active = false
	_, err = h.catalog.UpsertSource(ctx, src)
	require.NoError(t, err)

	_, err = h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	assert.ErrorIs(t, err, domain.ErrEventSourceNotFound)

	page, err := h.logs.List(ctx, domain.DeliveryFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Zero(t, h.queue.Len())
}

func TestTriggerRulesAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// SMS has no driver registered, so that rule is skipped.
	_, err := h.catalog.UpsertRule(ctx, domain.Rule{
		Name: "sms_copy", EventSourceID: h.source.ID, TemplateID: h.template.ID,
		Channel: domain.ChannelSMS, Recipients: domain.RecipientConfig{Phone: "+15550100"}, Active: true,
	})
	require.NoError(t, err)
	_, err = h.catalog.UpsertRule(ctx, domain.Rule{
		Name: "dynamic_email", EventSourceID: h.source.ID, TemplateID: h.template.ID,
		Channel: domain.ChannelEmail, Recipients: domain.RecipientConfig{Field: "customer.email", Email: "fallback@example.com"}, Active: true,
	})
	require.NoError(t, err)
	_, err = h.catalog.UpsertRule(ctx, domain.Rule{
		Name: "inactive", EventSourceID: h.source.ID, TemplateID: h.template.ID,
		Channel: domain.ChannelEmail, Recipients: domain.RecipientConfig{Email: "x@example.com"}, Active: false,
	})
	require.NoError(t, err)

	res, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{
		"status":   "paid",
		"id":       7,
		"customer": map[string]any{"email": "ann@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Skipped)

	var recipients []string
	for _, id := range res.DeliveryIDs {
		rec, err := h.deliveries.GetByID(ctx, id)
		require.NoError(t, err)
		recipients = append(recipients, rec.Recipient)
	}
	assert.ElementsMatch(t, []string{"ops@example.com", "ann@example.com"}, recipients)
	assert.Equal(t, 2, h.queue.Len())
}

func TestTriggerPayloadIsSnapshotted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payload := map[string]any{"status": "paid", "id": 9}
	res, err := h.dispatch.TriggerEvent(ctx, "order_created", payload)
	require.NoError(t, err)
	payload["id"] = 10

	out, err := h.worker.Process(ctx, h.receive(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out.Kind)
	assert.Equal(t, "Order 9 paid", h.email.calls()[0].body)
	assert.Len(t, res.DeliveryIDs, 1)
}

func TestWorkerRetriesThenFailsPermanently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.email.err = errors.New("smtp 451 try later")

	res, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	task := h.receive(t)

	out, err := h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Equal(t, time.Minute, out.RetryAfter)

	out, err = h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, out.Kind)
	assert.Equal(t, 5*time.Minute, out.RetryAfter)

	out, err = h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomePermanentFailure, out.Kind)

	// Resubmission after the ceiling never claims again.
	out, err = h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out.Kind)
	assert.Len(t, h.email.calls(), 3)

	rec, err := h.deliveries.GetByID(ctx, res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "smtp 451 try later", *rec.ErrorMessage)

	require.Len(t, h.alerter.alerts, 1)
	assert.Equal(t, alert.KindDeliveryFailed, h.alerter.alerts[0].Kind)
}

func TestWorkerRecoversAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.email.err = errors.New("timeout")

	res, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	task := h.receive(t)

	out, err := h.worker.Process(ctx, task)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetry, out.Kind)

	h.email.mu.Lock()
	h.email.err = nil
	h.email.mu.Unlock()

	out, err = h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out.Kind)

	rec, err := h.deliveries.GetByID(ctx, res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Nil(t, rec.ErrorMessage)
}

func TestWorkerMissingTemplateIsConfigError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	h.catalog.DeleteTemplate(h.template.ID)

	out, err := h.worker.Process(ctx, h.receive(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfigError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrTemplateMissing)
	assert.Empty(t, h.email.calls())

	rec, err := h.deliveries.GetByID(ctx, res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)

	require.Len(t, h.alerter.alerts, 1)
	assert.Equal(t, alert.KindConfigError, h.alerter.alerts[0].Kind)
}

func TestWorkerUnknownChannelIsConfigError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.deliveries.Create(ctx, domain.DeliveryRecord{
		ID: "sms-1", EventSourceID: h.source.ID, RuleID: "missing", Channel: domain.ChannelSMS,
		Recipient: "+15550100", Status: domain.StatusPending,
	}))
	// Rule lookup fails first; point at a real rule to reach the registry.
	active, err := h.catalog.ActiveRules(ctx, h.source.ID)
	require.NoError(t, err)
	require.NoError(t, h.deliveries.Create(ctx, domain.DeliveryRecord{
		ID: "sms-2", EventSourceID: h.source.ID, RuleID: active[0].ID, Channel: domain.ChannelSMS,
		Recipient: "+15550100", Status: domain.StatusPending,
	}))

	want := map[string]error{
		"sms-1": domain.ErrTemplateMissing,
		"sms-2": domain.ErrUnknownChannel,
	}
	for _, id := range []string{"sms-1", "sms-2"} {
		out, err := h.worker.Process(ctx, domain.DeliveryTask{RecordID: id})
		require.NoError(t, err)
		assert.Equal(t, OutcomeConfigError, out.Kind, id)
		assert.ErrorIs(t, out.Err, want[id], id)
	}
	assert.Len(t, h.alerter.alerts, 2)
}

func TestWorkerIgnoresSentAndUnknownRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	task := h.receive(t)

	out, err := h.worker.Process(ctx, task)
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, out.Kind)

	out, err = h.worker.Process(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out.Kind)

	out, err = h.worker.Process(ctx, domain.DeliveryTask{RecordID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out.Kind)

	assert.Len(t, h.email.calls(), 1)
}

func TestConcurrentWorkersSendOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	task := h.receive(t)

	var wg sync.WaitGroup
	outcomes := make([]OutcomeKind, 16)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.worker.Process(ctx, task)
			assert.NoError(t, err)
			outcomes[i] = out.Kind
		}(i)
	}
	wg.Wait()

	delivered := 0
	for _, k := range outcomes {
		if k == OutcomeDelivered {
			delivered++
		} else {
			assert.Equal(t, OutcomeNoop, k)
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Len(t, h.email.calls(), 1)
}

func TestWorkerPublishesTransitions(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := h.bus.Subscribe(ctx, domain.DeliveryEventsChannel)
	require.NoError(t, err)

	_, err = h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": 1})
	require.NoError(t, err)
	_, err = h.worker.Process(ctx, h.receive(t))
	require.NoError(t, err)

	var statuses []string
	for i := 0; i < 3; i++ {
		select {
		case raw := <-events:
			var ev domain.DeliveryEvent
			require.NoError(t, decodeJSON(raw, &ev))
			statuses = append(statuses, string(ev.Status))
		case <-time.After(time.Second):
			t.Fatal("missing delivery event")
		}
	}
	assert.Equal(t, []string{"pending", "processing", "sent"}, statuses)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Minute, p.Delay(0))
	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 5*time.Minute, p.Delay(2))
	assert.Equal(t, 15*time.Minute, p.Delay(3))
	assert.Equal(t, 15*time.Minute, p.Delay(7))
	assert.Zero(t, RetryPolicy{}.Delay(1))
}

func TestLogServicePagingAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := h.dispatch.TriggerEvent(ctx, "order_created", map[string]any{"status": "paid", "id": i})
		require.NoError(t, err)
	}

	page, err := h.logs.List(ctx, domain.DeliveryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPerPage, page.PerPage)
	assert.Len(t, page.Records, DefaultPerPage)

	page, err = h.logs.List(ctx, domain.DeliveryFilter{Page: 2, PerPage: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPerPage, page.PerPage)
	assert.Empty(t, page.Records)

	out, err := h.worker.Process(ctx, h.receive(t))
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, out.Kind)

	stats, err := h.logs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveRules)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(19), stats.ByStatus[domain.StatusPending])

	_, err = h.logs.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
