package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// DeliveryStore is an in-memory domain.DeliveryStore. A single mutex makes
// every conditional transition atomic.
type DeliveryStore struct {
	mu      sync.Mutex
	records map[string]domain.DeliveryRecord
	now     func() time.Time
}

var _ domain.DeliveryStore = (*DeliveryStore)(nil)

// NewDeliveryStore constructs an empty DeliveryStore.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{
		records: make(map[string]domain.DeliveryRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (m *DeliveryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *DeliveryStore) Create(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("memory: create delivery record %s: %w", rec.ID, domain.ErrAlreadyExists)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	rec.UpdatedAt = rec.CreatedAt
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *DeliveryStore) GetByID(_ context.Context, id string) (domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.DeliveryRecord{}, domain.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *DeliveryStore) Claim(_ context.Context, id string, from domain.DeliveryStatus, maxAttempts int) (bool, error) {
	if !from.Claimable() {
		return false, fmt.Errorf("memory: claim %s from %s: %w", id, from, domain.ErrStaleTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != from || rec.Attempts >= maxAttempts {
		return false, nil
	}
	rec.Status = domain.StatusProcessing
	rec.Attempts++
	rec.UpdatedAt = m.now()
	m.records[id] = rec
	return true, nil
}

func (m *DeliveryStore) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return fmt.Errorf("memory: mark delivery record %s sent: %w", id, domain.ErrStaleTransition)
	}
	rec.Status = domain.StatusSent
	rec.SentAt = &at
	rec.ErrorMessage = nil
	rec.UpdatedAt = m.now()
	m.records[id] = rec
	return nil
}

func (m *DeliveryStore) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != domain.StatusProcessing {
		return fmt.Errorf("memory: mark delivery record %s failed: %w", id, domain.ErrStaleTransition)
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = &reason
	rec.UpdatedAt = m.now()
	m.records[id] = rec
	return nil
}

func (m *DeliveryStore) ExpireProcessing(_ context.Context, olderThan time.Time, reason string, limit int) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, rec := range m.sortedLocked(func(a, b domain.DeliveryRecord) bool { return a.UpdatedAt.Before(b.UpdatedAt) }) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.Status != domain.StatusProcessing || !rec.UpdatedAt.Before(olderThan) {
			continue
		}
		msg := reason
		rec.Status = domain.StatusFailed
		rec.ErrorMessage = &msg
		rec.UpdatedAt = m.now()
		m.records[rec.ID] = rec
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (m *DeliveryStore) TouchStalePending(_ context.Context, olderThan time.Time, limit int) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, rec := range m.sortedLocked(func(a, b domain.DeliveryRecord) bool { return a.CreatedAt.Before(b.CreatedAt) }) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.Status != domain.StatusPending || !rec.UpdatedAt.Before(olderThan) {
			continue
		}
		rec.UpdatedAt = m.now()
		m.records[rec.ID] = rec
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (m *DeliveryStore) List(_ context.Context, filter domain.DeliveryFilter) (domain.DeliveryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedLocked(func(a, b domain.DeliveryRecord) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	var matched []domain.DeliveryRecord
	for _, rec := range all {
		if filter.EventSourceID != "" && rec.EventSourceID != filter.EventSourceID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && rec.Channel != filter.Channel {
			continue
		}
		matched = append(matched, rec)
	}

	page := domain.DeliveryPage{Total: int64(len(matched)), Page: filter.Page, PerPage: filter.PerPage}
	start := filter.Offset()
	if start < 0 || start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.PerPage > 0 && start+filter.PerPage < end {
		end = start + filter.PerPage
	}
	for _, rec := range matched[start:end] {
		page.Records = append(page.Records, cloneRecord(rec))
	}
	return page, nil
}

func (m *DeliveryStore) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, rec := range m.sortedLocked(func(a, b domain.DeliveryRecord) bool { return a.CreatedAt.Before(b.CreatedAt) }) {
		if !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (m *DeliveryStore) OldestCreatedAt(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	for _, rec := range m.records {
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
	}
	if oldest.IsZero() {
		return time.Time{}, domain.ErrNotFound
	}
	return oldest, nil
}

func (m *DeliveryStore) CountByStatus(_ context.Context) (map[domain.DeliveryStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.DeliveryStatus]int64, 4)
	for _, rec := range m.records {
		out[rec.Status]++
	}
	return out, nil
}

func (m *DeliveryStore) sortedLocked(less func(a, b domain.DeliveryRecord) bool) []domain.DeliveryRecord {
	out := make([]domain.DeliveryRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func cloneRecord(rec domain.DeliveryRecord) domain.DeliveryRecord {
	rec.Payload = cloneMap(rec.Payload)
	if rec.ErrorMessage != nil {
		msg := *rec.ErrorMessage
		rec.ErrorMessage = &msg
	}
	if rec.SentAt != nil {
		at := *rec.SentAt
		rec.SentAt = &at
	}
	return rec
}
