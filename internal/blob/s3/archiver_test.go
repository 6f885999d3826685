package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/memory"
)

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveMonthWritesJSONLOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeliveryStore()
	audit := memory.NewAuditStore()
	blobs := &memBlobs{objects: map[string][]byte{}}

	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{
		march.Add(time.Hour),
		march.AddDate(0, 0, 20),
		march.AddDate(0, 1, 0), // April, excluded
	} {
		require.NoError(t, store.Create(ctx, domain.DeliveryRecord{
			ID: string(rune('a' + i)), Channel: domain.ChannelEmail, Status: domain.StatusSent, CreatedAt: at,
		}))
	}

	a := NewArchiver(blobs, blobs, store, audit)
	n, err := a.ArchiveMonth(ctx, march.AddDate(0, 0, 12))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok := blobs.objects["archive/deliveries/2026-03.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var rec domain.DeliveryRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	n, err = a.ArchiveMonth(ctx, march)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := audit.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.deliveries", entries[0].Event)

	// Still present in the primary store.
	_, err = store.GetByID(ctx, "a")
	assert.NoError(t, err)
}

func TestArchiveEmptyMonth(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewArchiver(blobs, blobs, memory.NewDeliveryStore(), memory.NewAuditStore())
	n, err := a.ArchiveMonth(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
