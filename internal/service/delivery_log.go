package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

// LogService is the read side of delivery records: listings, single-record
// lookups and the dashboard counters.
type LogService struct {
	deliveries domain.DeliveryStore
	catalog    domain.CatalogStore
}

// NewLogService creates a LogService.
func NewLogService(deliveries domain.DeliveryStore, catalog domain.CatalogStore) *LogService {
	return &LogService{deliveries: deliveries, catalog: catalog}
}

// List returns one page of records matching filter, newest first. Page
// defaults to 1 and PerPage to DefaultPerPage, capped at MaxPerPage.
func (s *LogService) List(ctx context.Context, filter domain.DeliveryFilter) (domain.DeliveryPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.PerPage <= 0:
		filter.PerPage = DefaultPerPage
	case filter.PerPage > MaxPerPage:
		filter.PerPage = MaxPerPage
	}

	page, err := s.deliveries.List(ctx, filter)
	if err != nil {
		return domain.DeliveryPage{}, fmt.Errorf("service: list deliveries: %w", err)
	}
	if page.Records == nil {
		page.Records = []domain.DeliveryRecord{}
	}
	page.Page = filter.Page
	page.PerPage = filter.PerPage
	return page, nil
}

// Get returns one record or domain.ErrNotFound.
func (s *LogService) Get(ctx context.Context, id string) (domain.DeliveryRecord, error) {
	rec, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return domain.DeliveryRecord{}, fmt.Errorf("service: get delivery %s: %w", id, err)
	}
	return rec, nil
}

// Sources lists every event source, active or not.
func (s *LogService) Sources(ctx context.Context) ([]domain.EventSource, error) {
	srcs, err := s.catalog.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list event sources: %w", err)
	}
	return srcs, nil
}

// Stats returns the number of active rules and records per status.
func (s *LogService) Stats(ctx context.Context) (domain.DeliveryStats, error) {
	rulesN, err := s.catalog.CountActiveRules(ctx)
	if err != nil {
		return domain.DeliveryStats{}, fmt.Errorf("service: count active rules: %w", err)
	}
	counts, err := s.deliveries.CountByStatus(ctx)
	if err != nil {
		return domain.DeliveryStats{}, fmt.Errorf("service: count deliveries: %w", err)
	}
	byStatus := make(map[domain.DeliveryStatus]int64, 4)
	for _, st := range []domain.DeliveryStatus{domain.StatusPending, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed} {
		byStatus[st] = counts[st]
	}
	return domain.DeliveryStats{
		ActiveRules: rulesN,
		Sent:        byStatus[domain.StatusSent],
		Failed:      byStatus[domain.StatusFailed],
		ByStatus:    byStatus,
	}, nil
}
