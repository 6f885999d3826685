package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// DeliveryLog is the read side of delivery records. *service.LogService
// satisfies it.
type DeliveryLog interface {
	List(ctx context.Context, filter domain.DeliveryFilter) (domain.DeliveryPage, error)
	Get(ctx context.Context, id string) (domain.DeliveryRecord, error)
	Sources(ctx context.Context) ([]domain.EventSource, error)
	Stats(ctx context.Context) (domain.DeliveryStats, error)
}

// DeliveryHandler serves delivery record listings and dashboard counters.
type DeliveryHandler struct {
	log    DeliveryLog
	logger *slog.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(log DeliveryLog, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{log: log, logger: logger.With(slog.String("handler", "deliveries"))}
}

// List returns one page of delivery records, newest first.
// GET /api/deliveries?event_source_id=&status=&channel=&page=&per_page=
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.log.List(r.Context(), filter)
	if err != nil {
		h.internal(w, r, "list deliveries failed", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get returns a single delivery record.
// GET /api/deliveries/{id}
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.log.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "delivery record not found")
			return
		}
		h.internal(w, r, "get delivery failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Sources lists the event sources, for filter dropdowns.
// GET /api/event-sources
func (h *DeliveryHandler) Sources(w http.ResponseWriter, r *http.Request) {
	srcs, err := h.log.Sources(r.Context())
	if err != nil {
		h.internal(w, r, "list event sources failed", err)
		return
	}
	if srcs == nil {
		srcs = []domain.EventSource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": srcs})
}

// Stats returns the dashboard counters.
// GET /api/stats
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.log.Stats(r.Context())
	if err != nil {
		h.internal(w, r, "load stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DeliveryHandler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func parseFilter(r *http.Request) (domain.DeliveryFilter, error) {
	q := r.URL.Query()
	filter := domain.DeliveryFilter{
		EventSourceID: q.Get("event_source_id"),
		Page:          queryInt(r, "page", 1),
		PerPage:       queryInt(r, "per_page", 0),
	}
	if v := q.Get("status"); v != "" {
		st, ok := domain.ParseDeliveryStatus(v)
		if !ok {
			return filter, fmt.Errorf("invalid status %q", v)
		}
		filter.Status = st
	}
	if v := q.Get("channel"); v != "" {
		ch, err := domain.ParseChannel(v)
		if err != nil {
			return filter, fmt.Errorf("invalid channel %q", v)
		}
		filter.Channel = ch
	}
	return filter, nil
}
