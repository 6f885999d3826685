package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/config"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

const testCatalog = `
sources:
  - name: order_created
templates:
  - name: order_sms
    channel: sms
    body: "Order {{id}} is {{status}}"
rules:
  - name: paid_sms
    source: order_created
    template: order_sms
    channel: sms
    conditions:
      status: paid
    recipients:
      field: customer.phone
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = "full"
	cfg.Storage.Backend = "memory"
	cfg.Queue.Backend = "memory"
	cfg.Server.Enabled = false
	cfg.Server.RateLimit = 0
	cfg.Archive.Enabled = false

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	cfg.Catalog.Path = path
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireMemoryBackends(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Channels.Chat.Enabled = false

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Catalog)
	assert.NotNil(t, deps.Queue)
	assert.NotNil(t, deps.SignalBus)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)

	assert.True(t, deps.Channels.Enabled(domain.ChannelEmail))
	assert.True(t, deps.Channels.Enabled(domain.ChannelSMS))
	assert.False(t, deps.Channels.Enabled(domain.ChannelChat))

	_, err = deps.Channels.Driver(domain.ChannelChat)
	assert.ErrorIs(t, err, domain.ErrUnknownChannel)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	a := New(memoryConfig(t), quietLogger())
	p := a.retryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, p.Backoff)
}

func TestFullModeDeliversCatalogEvent(t *testing.T) {
	cfg := memoryConfig(t)
	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	a.closers = append(a.closers, cleanup)

	done := make(chan error, 1)
	go func() { done <- a.FullMode(ctx, deps) }()

	require.Eventually(t, func() bool {
		_, err := deps.Catalog.GetSourceByName(ctx, "order_created")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	dispatch := service.NewDispatchService(deps.Catalog, deps.Deliveries, deps.Queue, deps.Channels, deps.Resolver, deps.SignalBus, quietLogger())
	res, err := dispatch.TriggerEvent(ctx, "order_created", map[string]any{
		"id":       7,
		"status":   "paid",
		"customer": map[string]any{"phone": "+15550100"},
	})
	require.NoError(t, err)
	require.Len(t, res.DeliveryIDs, 1)

	require.Eventually(t, func() bool {
		rec, err := deps.Deliveries.GetByID(ctx, res.DeliveryIDs[0])
		return err == nil && rec.Status == domain.StatusSent
	}, 5*time.Second, 20*time.Millisecond)

	rec, err := deps.Deliveries.GetByID(ctx, res.DeliveryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "+15550100", rec.Recipient)
	assert.Equal(t, 1, rec.Attempts)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("full mode did not stop")
	}
}
