package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/memory"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

type scriptedProcessor struct {
	mu    sync.Mutex
	steps map[string]func() (service.Outcome, error)
	seen  chan string
}

func (p *scriptedProcessor) Process(_ context.Context, task domain.DeliveryTask) (service.Outcome, error) {
	p.mu.Lock()
	step := p.steps[task.RecordID]
	p.mu.Unlock()
	defer func() { p.seen <- task.RecordID }()
	if step == nil {
		return service.Outcome{Kind: service.OutcomeDelivered}, nil
	}
	return step()
}

func TestRunnerReschedulesRetriesAndStoreErrors(t *testing.T) {
	q := memory.NewQueue()
	defer q.Close()
	proc := &scriptedProcessor{
		seen: make(chan string, 8),
		steps: map[string]func() (service.Outcome, error){
			"retry": func() (service.Outcome, error) {
				return service.Outcome{Kind: service.OutcomeRetry, RetryAfter: time.Hour}, nil
			},
			"broken": func() (service.Outcome, error) {
				return service.Outcome{}, errors.New("db down")
			},
		},
	}
	runner := NewDeliveryRunner(q, proc, 2, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for _, id := range []string{"ok", "retry", "broken"} {
		require.NoError(t, q.Enqueue(ctx, domain.DeliveryTask{RecordID: id}))
	}

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case id := <-proc.seen:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("runner processed only %v", seen)
		}
	}

	require.Eventually(t, func() bool { return q.Delayed() == 2 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, q.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestReaperExpiresAndRequeues(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeliveryStore()
	q := memory.NewQueue()
	defer q.Close()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	for _, id := range []string{"stuck", "stuck-last", "pending"} {
		require.NoError(t, store.Create(ctx, domain.DeliveryRecord{
			ID: id, Channel: domain.ChannelEmail, Status: domain.StatusPending, CreatedAt: now,
		}))
	}
	ok, err := store.Claim(ctx, "stuck", domain.StatusPending, 3)
	require.NoError(t, err)
	require.True(t, ok)

	// Drive stuck-last to its final attempt.
	from := domain.StatusPending
	for i := 0; i < 3; i++ {
		ok, err := store.Claim(ctx, "stuck-last", from, 3)
		require.NoError(t, err)
		require.True(t, ok)
		if i < 2 {
			require.NoError(t, store.MarkFailed(ctx, "stuck-last", "x"))
			from = domain.StatusFailed
		}
	}

	alerts := &recordingAlerter{}
	reaper := NewReaper(store, q, service.DefaultRetryPolicy(), 10*time.Minute, time.Minute, 50, alerts, quietLogger())
	reaper.now = func() time.Time { return now }

	res, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{}, res)

	now = now.Add(time.Hour)
	res, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Expired: 2, Rescheduled: 1, Requeued: 1}, res)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Delayed())

	rec, err := store.GetByID(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, leaseExpiredReason, *rec.ErrorMessage)

	// Only the record at the ceiling reaches the operator.
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, alert.KindDeliveryFailed, alerts.alerts[0].Kind)
	assert.Equal(t, "stuck-last", alerts.alerts[0].Fields["record"])

	// A second sweep inside the lease finds nothing new.
	res, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{}, res)
}

type fakeBlobArchiver struct {
	months []string
}

func (f *fakeBlobArchiver) ArchiveMonth(_ context.Context, month time.Time) (int64, error) {
	f.months = append(f.months, month.Format("2006-01"))
	return 1, nil
}

func TestArchivableMonths(t *testing.T) {
	oldest := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)

	months := archivableMonths(oldest, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	require.Len(t, months, 2)
	assert.Equal(t, "2026-01", months[0].Format("2006-01"))
	assert.Equal(t, "2026-02", months[1].Format("2006-01"))

	assert.Empty(t, archivableMonths(oldest, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)))

	months = archivableMonths(oldest, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, months, 1)
}

func TestArchiverRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeliveryStore()
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, store, 30, quietLogger())
	a.now = func() time.Time { return time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC) }

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.months)

	require.NoError(t, store.Create(ctx, domain.DeliveryRecord{
		ID: "old", Channel: domain.ChannelSMS, Status: domain.StatusSent,
		CreatedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
	}))

	n, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"2026-02", "2026-03"}, blob.months)
}

func TestArchiverRejectsBadCron(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, memory.NewDeliveryStore(), 30, quietLogger())
	err := a.RunCron(context.Background(), "not a cron")
	assert.Error(t, err)
}

func TestQueueDepthLoopSetsGauge(t *testing.T) {
	q := memory.NewQueue()
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.DeliveryTask{RecordID: "a"}))
	require.NoError(t, q.Enqueue(ctx, domain.DeliveryTask{RecordID: "b"}))
	require.NoError(t, q.EnqueueAfter(ctx, domain.DeliveryTask{RecordID: "c"}, time.Hour))

	loop := QueueDepthLoop(q, 10*time.Millisecond, quietLogger())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(queueDepth.WithLabelValues("ready")) == 2 &&
			testutil.ToFloat64(queueDepth.WithLabelValues("delayed")) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("depth loop did not stop")
	}
}
