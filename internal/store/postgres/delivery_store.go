package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// DeliveryStore implements domain.DeliveryStore using PostgreSQL. Every
// status transition is a single-row UPDATE whose WHERE clause carries the
// expected prior status.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore creates a new DeliveryStore backed by the given pool.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

var _ domain.DeliveryStore = (*DeliveryStore)(nil)

const deliveryColumns = `id, event_source_id, rule_id, channel, payload, recipient, status,
	attempts, error_message, sent_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (domain.DeliveryRecord, error) {
	var (
		rec         domain.DeliveryRecord
		channel     string
		status      string
		payloadJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.EventSourceID, &rec.RuleID, &channel, &payloadJSON, &rec.Recipient, &status,
		&rec.Attempts, &rec.ErrorMessage, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	rec.Channel = domain.Channel(channel)
	rec.Status = domain.DeliveryStatus(status)
	if len(payloadJSON) > 0 {
		m, err := decodeJSONMap(payloadJSON)
		if err != nil {
			return domain.DeliveryRecord{}, fmt.Errorf("decode payload: %w", err)
		}
		rec.Payload = m
	}
	return rec, nil
}

func collectDeliveries(rows pgx.Rows) ([]domain.DeliveryRecord, error) {
	defer rows.Close()
	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Create inserts a new record. Status and attempts are taken from rec, which
// the dispatcher always sets to Pending and 0.
func (s *DeliveryStore) Create(ctx context.Context, rec domain.DeliveryRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal payload for %s: %w", rec.ID, err)
	}

	const query = `
		INSERT INTO delivery_records (
			id, event_source_id, rule_id, channel, payload, recipient, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.EventSourceID, rec.RuleID, string(rec.Channel), payloadJSON,
		rec.Recipient, string(rec.Status), rec.Attempts, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create delivery record %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns a single record.
func (s *DeliveryStore) GetByID(ctx context.Context, id string) (domain.DeliveryRecord, error) {
	rec, err := scanDelivery(s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM delivery_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DeliveryRecord{}, domain.ErrNotFound
		}
		return domain.DeliveryRecord{}, fmt.Errorf("postgres: get delivery record %s: %w", id, err)
	}
	return rec, nil
}

// Claim moves a Pending or Failed record to Processing in one conditional
// UPDATE. Zero affected rows means another worker won or the attempt
// ceiling was reached.
func (s *DeliveryStore) Claim(ctx context.Context, id string, from domain.DeliveryStatus, maxAttempts int) (bool, error) {
	if !from.Claimable() {
		return false, fmt.Errorf("postgres: claim %s from %s: %w", id, from, domain.ErrStaleTransition)
	}

	const query = `
		UPDATE delivery_records
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND attempts < $3`

	tag, err := s.pool.Exec(ctx, query, id, string(from), maxAttempts)
	if err != nil {
		return false, fmt.Errorf("postgres: claim delivery record %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent moves a Processing record to Sent.
func (s *DeliveryStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE delivery_records
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark delivery record %s sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark delivery record %s sent: %w", id, domain.ErrStaleTransition)
	}
	return nil
}

// MarkFailed moves a Processing record to Failed with reason.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE delivery_records
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark delivery record %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark delivery record %s failed: %w", id, domain.ErrStaleTransition)
	}
	return nil
}

// ExpireProcessing fails records whose worker never reported back. Rows
// locked by a concurrent reaper are skipped.
func (s *DeliveryStore) ExpireProcessing(ctx context.Context, olderThan time.Time, reason string, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		UPDATE delivery_records
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE status = 'processing' AND updated_at < $1
			ORDER BY updated_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) AND status = 'processing'
		RETURNING ` + deliveryColumns

	rows, err := s.pool.Query(ctx, query, olderThan, reason, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire processing records: %w", err)
	}
	out, err := collectDeliveries(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire processing records scan: %w", err)
	}
	return out, nil
}

// TouchStalePending returns Pending records idle since olderThan and bumps
// their updated_at.
func (s *DeliveryStore) TouchStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		UPDATE delivery_records
		SET updated_at = NOW()
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE status = 'pending' AND updated_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING ` + deliveryColumns

	rows, err := s.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: touch stale pending records: %w", err)
	}
	out, err := collectDeliveries(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: touch stale pending records scan: %w", err)
	}
	return out, nil
}

// List returns one page of records matching filter, newest first.
func (s *DeliveryStore) List(ctx context.Context, filter domain.DeliveryFilter) (domain.DeliveryPage, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.EventSourceID != "" {
		where += fmt.Sprintf(" AND event_source_id = $%d", argIdx)
		args = append(args, filter.EventSourceID)
		argIdx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Channel != "" {
		where += fmt.Sprintf(" AND channel = $%d", argIdx)
		args = append(args, string(filter.Channel))
		argIdx++
	}

	page := domain.DeliveryPage{Page: filter.Page, PerPage: filter.PerPage}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_records`+where, args...).Scan(&page.Total); err != nil {
		return domain.DeliveryPage{}, fmt.Errorf("postgres: count delivery records: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM delivery_records` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filter.PerPage, filter.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.DeliveryPage{}, fmt.Errorf("postgres: list delivery records: %w", err)
	}
	records, err := collectDeliveries(rows)
	if err != nil {
		return domain.DeliveryPage{}, fmt.Errorf("postgres: list delivery records scan: %w", err)
	}
	page.Records = records
	return page, nil
}

// ListCreatedBetween returns records with from <= created_at < to, oldest
// first.
func (s *DeliveryStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_records
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delivery records between: %w", err)
	}
	out, err := collectDeliveries(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list delivery records between scan: %w", err)
	}
	return out, nil
}

// OldestCreatedAt returns the creation time of the oldest record, or
// domain.ErrNotFound when the table is empty.
func (s *DeliveryStore) OldestCreatedAt(ctx context.Context) (time.Time, error) {
	var t *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MIN(created_at) FROM delivery_records`).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("postgres: oldest delivery record: %w", err)
	}
	if t == nil {
		return time.Time{}, domain.ErrNotFound
	}
	return *t, nil
}

// CountByStatus returns the number of records in each status.
func (s *DeliveryStore) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM delivery_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count delivery records by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.DeliveryStatus]int64, 4)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		out[domain.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count delivery records rows: %w", err)
	}
	return out, nil
}
