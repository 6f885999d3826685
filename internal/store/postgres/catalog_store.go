package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// CatalogStore implements domain.CatalogStore using PostgreSQL.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a new CatalogStore backed by the given pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

var _ domain.CatalogStore = (*CatalogStore)(nil)

const sourceColumns = `id, name, description, schema, is_active, created_at, updated_at`

func scanSource(row pgx.Row) (domain.EventSource, error) {
	var src domain.EventSource
	var schemaJSON []byte
	if err := row.Scan(&src.ID, &src.Name, &src.Description, &schemaJSON, &src.Active, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return domain.EventSource{}, err
	}
	if len(schemaJSON) > 0 {
		m, err := decodeJSONMap(schemaJSON)
		if err != nil {
			return domain.EventSource{}, fmt.Errorf("decode schema: %w", err)
		}
		src.Schema = m
	}
	return src, nil
}

// GetSourceByName returns the source with the given unique name.
func (s *CatalogStore) GetSourceByName(ctx context.Context, name string) (domain.EventSource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM event_sources WHERE name = $1`, name)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EventSource{}, domain.ErrNotFound
		}
		return domain.EventSource{}, fmt.Errorf("postgres: get event source %s: %w", name, err)
	}
	return src, nil
}

// GetSource returns the source with the given ID.
func (s *CatalogStore) GetSource(ctx context.Context, id string) (domain.EventSource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM event_sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EventSource{}, domain.ErrNotFound
		}
		return domain.EventSource{}, fmt.Errorf("postgres: get event source %s: %w", id, err)
	}
	return src, nil
}

// ListSources returns every source ordered by name.
func (s *CatalogStore) ListSources(ctx context.Context) ([]domain.EventSource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM event_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list event sources: %w", err)
	}
	defer rows.Close()

	var out []domain.EventSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list event sources rows: %w", err)
	}
	return out, nil
}

const ruleSelect = `
	SELECT r.id, r.name, r.event_source_id, r.template_id, r.channel, r.conditions,
	       r.recipient_email, r.recipient_phone, r.recipient_webhook_url, r.recipient_field,
	       r.is_active, r.created_at, r.updated_at,
	       t.id, t.name, t.channel, t.subject, t.body, t.created_at, t.updated_at
	FROM notification_rules r
	LEFT JOIN notification_templates t ON t.id = r.template_id`

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		r              domain.Rule
		templateID     *string
		conditionsJSON []byte
		tID, tName     *string
		tChannel       *string
		tSubject       *string
		tBody          *string
		tCreated       *time.Time
		tUpdated       *time.Time
		channel        string
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.EventSourceID, &templateID, &channel, &conditionsJSON,
		&r.Recipients.Email, &r.Recipients.Phone, &r.Recipients.WebhookURL, &r.Recipients.Field,
		&r.Active, &r.CreatedAt, &r.UpdatedAt,
		&tID, &tName, &tChannel, &tSubject, &tBody, &tCreated, &tUpdated,
	)
	if err != nil {
		return domain.Rule{}, err
	}
	r.Channel = domain.Channel(channel)
	if templateID != nil {
		r.TemplateID = *templateID
	}
	if len(conditionsJSON) > 0 {
		m, err := decodeJSONMap(conditionsJSON)
		if err != nil {
			return domain.Rule{}, fmt.Errorf("decode conditions: %w", err)
		}
		if len(m) > 0 {
			r.Conditions = m
		}
	}
	if tID != nil {
		tpl := &domain.Template{
			ID:      *tID,
			Name:    deref(tName),
			Channel: domain.Channel(deref(tChannel)),
			Subject: deref(tSubject),
			Body:    deref(tBody),
		}
		if tCreated != nil {
			tpl.CreatedAt = *tCreated
		}
		if tUpdated != nil {
			tpl.UpdatedAt = *tUpdated
		}
		r.Template = tpl
	}
	return r, nil
}

// ActiveRules returns the active rules for a source, templates attached.
func (s *CatalogStore) ActiveRules(ctx context.Context, sourceID string) ([]domain.Rule, error) {
	rows, err := s.pool.Query(ctx, ruleSelect+` WHERE r.event_source_id = $1 AND r.is_active ORDER BY r.created_at`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active rules for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active rules rows: %w", err)
	}
	return out, nil
}

// GetRule returns one rule with its template (nil when the template was
// removed).
func (s *CatalogStore) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx, ruleSelect+` WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rule{}, domain.ErrNotFound
		}
		return domain.Rule{}, fmt.Errorf("postgres: get rule %s: %w", id, err)
	}
	return r, nil
}

// CountActiveRules counts active rules whose source is also active.
func (s *CatalogStore) CountActiveRules(ctx context.Context) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM notification_rules r
		JOIN event_sources e ON e.id = r.event_source_id
		WHERE r.is_active AND e.is_active`
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count active rules: %w", err)
	}
	return n, nil
}

// UpsertSource inserts or updates a source keyed by name.
func (s *CatalogStore) UpsertSource(ctx context.Context, src domain.EventSource) (domain.EventSource, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	var schemaJSON []byte
	if src.Schema != nil {
		b, err := json.Marshal(src.Schema)
		if err != nil {
			return domain.EventSource{}, fmt.Errorf("postgres: marshal schema: %w", err)
		}
		schemaJSON = b
	}

	const query = `
		INSERT INTO event_sources (id, name, description, schema, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			schema      = EXCLUDED.schema,
			is_active   = EXCLUDED.is_active,
			updated_at  = NOW()
		RETURNING ` + sourceColumns

	out, err := scanSource(s.pool.QueryRow(ctx, query, src.ID, src.Name, src.Description, schemaJSON, src.Active))
	if err != nil {
		return domain.EventSource{}, fmt.Errorf("postgres: upsert event source %s: %w", src.Name, err)
	}
	return out, nil
}

// UpsertTemplate inserts or updates a template keyed by name.
func (s *CatalogStore) UpsertTemplate(ctx context.Context, tpl domain.Template) (domain.Template, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO notification_templates (id, name, channel, subject, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			channel    = EXCLUDED.channel,
			subject    = EXCLUDED.subject,
			body       = EXCLUDED.body,
			updated_at = NOW()
		RETURNING id, name, channel, subject, body, created_at, updated_at`

	var out domain.Template
	var channel string
	err := s.pool.QueryRow(ctx, query, tpl.ID, tpl.Name, string(tpl.Channel), tpl.Subject, tpl.Body).
		Scan(&out.ID, &out.Name, &channel, &out.Subject, &out.Body, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return domain.Template{}, fmt.Errorf("postgres: upsert template %s: %w", tpl.Name, err)
	}
	out.Channel = domain.Channel(channel)
	return out, nil
}

// UpsertRule inserts or updates a rule keyed by name. The returned rule does
// not carry its template.
func (s *CatalogStore) UpsertRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	conditions := r.Conditions
	if conditions == nil {
		conditions = map[string]any{}
	}
	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("postgres: marshal conditions: %w", err)
	}
	var templateID *string
	if r.TemplateID != "" {
		templateID = &r.TemplateID
	}

	const query = `
		INSERT INTO notification_rules (
			id, name, event_source_id, template_id, channel, conditions,
			recipient_email, recipient_phone, recipient_webhook_url, recipient_field, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO UPDATE SET
			event_source_id       = EXCLUDED.event_source_id,
			template_id           = EXCLUDED.template_id,
			channel               = EXCLUDED.channel,
			conditions            = EXCLUDED.conditions,
			recipient_email       = EXCLUDED.recipient_email,
			recipient_phone       = EXCLUDED.recipient_phone,
			recipient_webhook_url = EXCLUDED.recipient_webhook_url,
			recipient_field       = EXCLUDED.recipient_field,
			is_active             = EXCLUDED.is_active,
			updated_at            = NOW()
		RETURNING id, created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		r.ID, r.Name, r.EventSourceID, templateID, string(r.Channel), conditionsJSON,
		r.Recipients.Email, r.Recipients.Phone, r.Recipients.WebhookURL, r.Recipients.Field, r.Active,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("postgres: upsert rule %s: %w", r.Name, err)
	}
	r.Template = nil
	return r, nil
}

// decodeJSONMap decodes a JSON object keeping numbers as json.Number so
// large integers survive a round trip through the database.
func decodeJSONMap(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
