// Package memory provides in-process implementations of the notifyhub
// stores, task queue and status bus. They back single-process deployments
// (storage.backend = "memory") and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// CatalogStore is an in-memory domain.CatalogStore.
type CatalogStore struct {
	mu        sync.RWMutex
	sources   map[string]domain.EventSource // by id
	templates map[string]domain.Template    // by id
	rules     map[string]domain.Rule        // by id
}

var _ domain.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		sources:   make(map[string]domain.EventSource),
		templates: make(map[string]domain.Template),
		rules:     make(map[string]domain.Rule),
	}
}

func (m *CatalogStore) GetSourceByName(_ context.Context, name string) (domain.EventSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, src := range m.sources {
		if src.Name == name {
			return cloneSource(src), nil
		}
	}
	return domain.EventSource{}, domain.ErrNotFound
}

func (m *CatalogStore) GetSource(_ context.Context, id string) (domain.EventSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return domain.EventSource{}, domain.ErrNotFound
	}
	return cloneSource(src), nil
}

func (m *CatalogStore) ListSources(_ context.Context) ([]domain.EventSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.EventSource, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, cloneSource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *CatalogStore) ActiveRules(_ context.Context, sourceID string) ([]domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Rule
	for _, r := range m.rules {
		if r.EventSourceID == sourceID && r.Active {
			out = append(out, m.withTemplate(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *CatalogStore) GetRule(_ context.Context, id string) (domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.Rule{}, domain.ErrNotFound
	}
	return m.withTemplate(r), nil
}

func (m *CatalogStore) CountActiveRules(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.rules {
		if r.Active && m.sources[r.EventSourceID].Active {
			n++
		}
	}
	return n, nil
}

func (m *CatalogStore) UpsertSource(_ context.Context, src domain.EventSource) (domain.EventSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.sources {
		if existing.Name == src.Name {
			src.ID = id
			src.CreatedAt = existing.CreatedAt
			break
		}
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	m.sources[src.ID] = cloneSource(src)
	return cloneSource(src), nil
}

func (m *CatalogStore) UpsertTemplate(_ context.Context, tpl domain.Template) (domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.templates {
		if existing.Name == tpl.Name {
			tpl.ID = id
			tpl.CreatedAt = existing.CreatedAt
			break
		}
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	m.templates[tpl.ID] = tpl
	return tpl, nil
}

func (m *CatalogStore) UpsertRule(_ context.Context, r domain.Rule) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range m.rules {
		if r.Name != "" && existing.Name == r.Name {
			r.ID = id
			r.CreatedAt = existing.CreatedAt
			break
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Template = nil
	r.Conditions = cloneMap(r.Conditions)
	m.rules[r.ID] = r
	return r, nil
}

// DeleteTemplate removes a template; rules pointing at it keep their
// TemplateID but resolve to a nil Template.
func (m *CatalogStore) DeleteTemplate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, id)
}

func (m *CatalogStore) withTemplate(r domain.Rule) domain.Rule {
	r.Conditions = cloneMap(r.Conditions)
	if tpl, ok := m.templates[r.TemplateID]; ok {
		t := tpl
		r.Template = &t
	} else {
		r.Template = nil
	}
	return r
}

func cloneSource(src domain.EventSource) domain.EventSource {
	src.Schema = cloneMap(src.Schema)
	return src
}

// cloneMap deep-copies decoded JSON so callers never share mutable state
// with the store.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
