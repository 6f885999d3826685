package redis

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

func TestTaskCodec(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err := encodeTask(domain.DeliveryTask{RecordID: "rec-1", EnqueuedAt: at})
	require.NoError(t, err)

	for _, v := range []any{raw, []byte(raw)} {
		task, err := decodeTask(v)
		require.NoError(t, err)
		assert.Equal(t, "rec-1", task.RecordID)
		assert.True(t, at.Equal(task.EnqueuedAt))
	}
}

func TestEncodeTaskStampsEnqueueTime(t *testing.T) {
	raw, err := encodeTask(domain.DeliveryTask{RecordID: "rec-1"})
	require.NoError(t, err)
	task, err := decodeTask(raw)
	require.NoError(t, err)
	assert.False(t, task.EnqueuedAt.IsZero())
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := decodeTask(42)
	assert.Error(t, err)

	_, err = decodeTask("{not json")
	assert.Error(t, err)

	_, err = decodeTask(`{"record_id":""}`)
	assert.Error(t, err)
}

func TestRateLimitKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "notifyhub:ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
}

func TestClientOptions(t *testing.T) {
	opts := options(ClientConfig{
		Addr: "cache:6380", Password: "pw", DB: 2, PoolSize: 7, MaxRetries: 5, TLSEnabled: true,
	})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 5, opts.MaxRetries)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)

	assert.Nil(t, options(ClientConfig{Addr: "cache:6379"}).TLSConfig)
}
