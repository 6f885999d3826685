package domain

import (
	"math"
	"time"
)

// DeliveryStatus is the lifecycle state of a DeliveryRecord.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusProcessing DeliveryStatus = "processing"
	StatusSent       DeliveryStatus = "sent"
	StatusFailed     DeliveryStatus = "failed"
)

// ParseDeliveryStatus validates s as a DeliveryStatus.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch st := DeliveryStatus(s); st {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return st, true
	}
	return "", false
}

// Claimable reports whether a worker may move a record in this status to
// Processing.
func (s DeliveryStatus) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

// Terminal reports whether no further transition is possible regardless of
// attempts. Failed is only terminal once the attempt ceiling is reached; see
// DeliveryRecord.Exhausted.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSent
}

// DeliveryRecord is the persistent unit of work: one (event occurrence, rule)
// pair that matched.
type DeliveryRecord struct {
	ID            string         `json:"id"`
	EventSourceID string         `json:"event_source_id"`
	RuleID        string         `json:"rule_id"`
	Channel       Channel        `json:"channel"`
	Payload       map[string]any `json:"payload"`
	Recipient     string         `json:"recipient"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Exhausted reports whether the record has used every allowed attempt and
// can no longer be claimed.
func (r DeliveryRecord) Exhausted(maxAttempts int) bool {
	return r.Attempts >= maxAttempts
}

// DeliveryTask is what travels on the task queue: just the record identity.
type DeliveryTask struct {
	RecordID   string    `json:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeliveryEvent is published on the status bus after every transition.
type DeliveryEvent struct {
	RecordID      string         `json:"record_id"`
	EventSourceID string         `json:"event_source_id"`
	Channel       Channel        `json:"channel"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	Error         string         `json:"error,omitempty"`
	At            time.Time      `json:"at"`
}

// DeliveryFilter narrows a delivery record listing. Zero values mean "any".
type DeliveryFilter struct {
	EventSourceID string
	Status        DeliveryStatus
	Channel       Channel
	Page          int // 1-based
	PerPage       int
}

// Offset returns the row offset for the filter's page. It saturates at
// math.MaxInt instead of overflowing for absurdly large pages.
func (f DeliveryFilter) Offset() int {
	if f.Page <= 1 || f.PerPage <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PerPage {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PerPage
}

// DeliveryPage is one page of a delivery record listing, newest first.
type DeliveryPage struct {
	Records []DeliveryRecord `json:"data"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// DeliveryStats holds the dashboard counters.
type DeliveryStats struct {
	ActiveRules int64                    `json:"active_rules"`
	Sent        int64                    `json:"sent"`
	Failed      int64                    `json:"failed"`
	ByStatus    map[DeliveryStatus]int64 `json:"by_status"`
}
