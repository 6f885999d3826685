package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/memory"
	"github.com/alanyoungcy/notifyhub/internal/rules"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

type allChannels struct{}

func (allChannels) Enabled(domain.Channel) bool { return true }

type fixture struct {
	mux        *http.ServeMux
	deliveries *memory.DeliveryStore
	queue      *memory.Queue
	source     domain.EventSource
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	catalog := memory.NewCatalogStore()
	f := &fixture{deliveries: memory.NewDeliveryStore(), queue: memory.NewQueue()}
	t.Cleanup(func() { _ = f.queue.Close() })

	var err error
	f.source, err = catalog.UpsertSource(ctx, domain.EventSource{Name: "order_created", Active: true})
	require.NoError(t, err)
	_, err = catalog.UpsertSource(ctx, domain.EventSource{Name: "retired", Active: false})
	require.NoError(t, err)
	tpl, err := catalog.UpsertTemplate(ctx, domain.Template{Name: "paid", Channel: domain.ChannelEmail, Body: "Order {{id}}"})
	require.NoError(t, err)
	_, err = catalog.UpsertRule(ctx, domain.Rule{
		Name:          "paid_orders",
		EventSourceID: f.source.ID,
		TemplateID:    tpl.ID,
		Channel:       domain.ChannelEmail,
		Conditions:    map[string]any{"status": "paid", "amount": 10},
		Recipients:    domain.RecipientConfig{Email: "ops@example.com"},
		Active:        true,
	})
	require.NoError(t, err)

	logger := quietLogger()
	dispatch := service.NewDispatchService(catalog, f.deliveries, f.queue, allChannels{}, rules.NewResolver(nil), nil, logger)
	events := NewEventHandler(dispatch, logger)
	logs := NewDeliveryHandler(service.NewLogService(f.deliveries, catalog), logger)

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("POST /api/events", events.Trigger)
	f.mux.HandleFunc("GET /api/deliveries", logs.List)
	f.mux.HandleFunc("GET /api/deliveries/{id}", logs.Get)
	f.mux.HandleFunc("GET /api/event-sources", logs.Sources)
	f.mux.HandleFunc("GET /api/stats", logs.Stats)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestTriggerAccepted(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/events", `{"event":"order_created","payload":{"id":42,"status":"paid","amount":10.0}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	res := decode[service.TriggerResult](t, rec)
	assert.Equal(t, 1, res.Matched)
	require.Len(t, res.DeliveryIDs, 1)
	assert.Equal(t, 1, f.queue.Len())

	stored, err := f.deliveries.GetByID(context.Background(), res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), stored.Payload["id"])
}

func TestTriggerNoMatchIsStillAccepted(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/events", `{"event":"order_created","payload":{"status":"pending"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decode[service.TriggerResult](t, rec)
	assert.Zero(t, res.Matched)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.DeliveryIDs)
}

func TestTriggerErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"unknown source", `{"event":"nope","payload":{}}`, http.StatusNotFound},
		{"inactive source", `{"event":"retired","payload":{}}`, http.StatusNotFound},
		{"empty body", ``, http.StatusBadRequest},
		{"malformed", `{"event":`, http.StatusBadRequest},
		{"missing event", `{"payload":{}}`, http.StatusBadRequest},
		{"payload not an object", `{"event":"order_created","payload":[1]}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/events", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, f.queue.Len())
}

type failingDispatcher struct{}

func (failingDispatcher) TriggerEvent(context.Context, string, map[string]any) (service.TriggerResult, error) {
	return service.TriggerResult{}, errors.New("db down")
}

func TestTriggerInternalError(t *testing.T) {
	h := NewEventHandler(failingDispatcher{}, quietLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"event":"x"}`))
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListAndGetDeliveries(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodPost, "/api/events", `{"event":"order_created","payload":{"id":1,"status":"paid","amount":10}}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := f.do(http.MethodGet, "/api/deliveries?per_page=2&status=pending&channel=email", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.DeliveryPage](t, rec)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 2, page.PerPage)

	rec = f.do(http.MethodGet, "/api/deliveries?event_source_id=other", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.DeliveryPage](t, rec).Records)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/deliveries?status=lost", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/deliveries?channel=fax", "").Code)

	id := page.Records[0].ID
	rec = f.do(http.MethodGet, "/api/deliveries/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[domain.DeliveryRecord](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/deliveries/missing", "").Code)

	rec = f.do(http.MethodGet, "/api/deliveries?page=922337203685477580&per_page=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	huge := decode[domain.DeliveryPage](t, rec)
	assert.EqualValues(t, 3, huge.Total)
	assert.Empty(t, huge.Records)
}

func TestSourcesAndStats(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusAccepted,
		f.do(http.MethodPost, "/api/events", `{"event":"order_created","payload":{"status":"paid","amount":10}}`).Code)

	rec := f.do(http.MethodGet, "/api/event-sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	srcs := decode[struct {
		Data []domain.EventSource `json:"data"`
	}](t, rec)
	assert.Len(t, srcs.Data, 2)

	rec = f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.DeliveryStats](t, rec)
	assert.EqualValues(t, 1, stats.ActiveRules)
	assert.EqualValues(t, 1, stats.ByStatus[domain.StatusPending])
	assert.Zero(t, stats.Sent)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("full", map[string]Pinger{"redis": pinger{}}, quietLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler("full", map[string]Pinger{"postgres": pinger{err: errors.New("refused")}}, quietLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
}
