package domain

import (
	"context"
	"time"
)

// CatalogStore persists event sources, templates and rules. The dispatch
// core only reads; the Upsert methods are used by the catalog loader.
type CatalogStore interface {
	GetSourceByName(ctx context.Context, name string) (EventSource, error)
	GetSource(ctx context.Context, id string) (EventSource, error)
	ListSources(ctx context.Context) ([]EventSource, error)
	// ActiveRules returns the active rules of a source with Template set.
	ActiveRules(ctx context.Context, sourceID string) ([]Rule, error)
	// GetRule returns a rule with Template set (nil if the template is gone).
	GetRule(ctx context.Context, id string) (Rule, error)
	CountActiveRules(ctx context.Context) (int64, error)

	UpsertSource(ctx context.Context, src EventSource) (EventSource, error)
	UpsertTemplate(ctx context.Context, tpl Template) (Template, error)
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
}

// DeliveryStore persists delivery records. Every status change goes through
// a method that names its precondition; a lost race surfaces as a false
// claim or ErrStaleTransition, never as a silent overwrite.
type DeliveryStore interface {
	Create(ctx context.Context, rec DeliveryRecord) error
	GetByID(ctx context.Context, id string) (DeliveryRecord, error)

	// Claim atomically moves the record from `from` (Pending or Failed) to
	// Processing and increments attempts, provided attempts < maxAttempts.
	// It reports whether this caller won.
	Claim(ctx context.Context, id string, from DeliveryStatus, maxAttempts int) (bool, error)
	// MarkSent moves a Processing record to Sent, stamping sent_at and
	// clearing any error.
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkFailed moves a Processing record to Failed with reason.
	MarkFailed(ctx context.Context, id string, reason string) error

	// ExpireProcessing moves records stuck in Processing since before
	// olderThan to Failed and returns them as updated.
	ExpireProcessing(ctx context.Context, olderThan time.Time, reason string, limit int) ([]DeliveryRecord, error)
	// TouchStalePending returns Pending records not touched since olderThan
	// and bumps their updated_at, so each is handed out at most once per
	// lease period.
	TouchStalePending(ctx context.Context, olderThan time.Time, limit int) ([]DeliveryRecord, error)

	List(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
	// ListCreatedBetween returns records with from <= created_at < to,
	// oldest first.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]DeliveryRecord, error)
	OldestCreatedAt(ctx context.Context) (time.Time, error)
	CountByStatus(ctx context.Context) (map[DeliveryStatus]int64, error)
}

// AuditEntry is one row of the operational audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records operational events such as archive runs and catalog
// reloads.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
