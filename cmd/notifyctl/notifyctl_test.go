package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records the last request and replies with a canned body.
type fakeAPI struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
	status int
	reply  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.method, f.path, f.query = r.Method, r.URL.Path, r.URL.RawQuery
	f.auth = r.Header.Get("Authorization")
	f.body = nil
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&f.body)
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(f.reply))
}

func run(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--api-key", "k"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTriggerCommand(t *testing.T) {
	api := &fakeAPI{status: http.StatusAccepted, reply: `{"event":"order_created","matched":1,"skipped":0,"delivery_ids":["d-1"]}`}
	out, err := run(t, api, "trigger", "order_created", `{"id": 42, "status": "paid"}`, "-o", "json")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, api.method)
	assert.Equal(t, "/api/events", api.path)
	assert.Equal(t, "Bearer k", api.auth)
	assert.Equal(t, "order_created", api.body["event"])
	assert.Equal(t, map[string]any{"id": float64(42), "status": "paid"}, api.body["payload"])

	var res triggerResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"d-1"}, res.DeliveryIDs)
}

func TestTriggerRejectsNonObjectPayload(t *testing.T) {
	_, err := run(t, &fakeAPI{}, "trigger", "order_created", `[1,2]`)
	assert.Error(t, err)
}

func TestDeliveriesListCommand(t *testing.T) {
	api := &fakeAPI{reply: `{"data":[{"id":"d-1","channel":"email","status":"failed","attempts":3,
		"recipient":"a@example.com","error_message":"smtp timeout","created_at":"2026-01-02T03:04:05Z"}],
		"total":1,"page":1,"per_page":15}`}
	out, err := run(t, api, "deliveries", "list", "--status", "failed", "--per-page", "15")
	require.NoError(t, err)

	assert.Equal(t, "/api/deliveries", api.path)
	assert.Contains(t, api.query, "status=failed")
	assert.Contains(t, api.query, "per_page=15")
	assert.Contains(t, out, "d-1")
	assert.Contains(t, out, "smtp timeout")
	assert.Contains(t, out, "page 1, 1 of 1 records")
}

func TestDeliveriesGetNotFound(t *testing.T) {
	api := &fakeAPI{status: http.StatusNotFound, reply: `{"error":"delivery record not found"}`}
	_, err := run(t, api, "deliveries", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "delivery record not found")
	assert.Equal(t, "/api/deliveries/missing", api.path)
}

func TestStatsCommandYAML(t *testing.T) {
	api := &fakeAPI{reply: `{"active_rules":4,"sent":1200,"failed":3,"by_status":{"pending":1,"processing":0,"sent":1200,"failed":3}}`}
	out, err := run(t, api, "stats", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "active_rules: 4")
	assert.Contains(t, out, "sent: 1200")

	out, err = run(t, api, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "1,200")
}

func TestUnknownOutputFormat(t *testing.T) {
	api := &fakeAPI{reply: `{"active_rules":0,"by_status":{}}`}
	_, err := run(t, api, "stats", "-o", "xml")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown output format"))
}
