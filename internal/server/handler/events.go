package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/service"
)

// Dispatcher is the part of the dispatch service the event handler needs.
type Dispatcher interface {
	TriggerEvent(ctx context.Context, sourceName string, payload map[string]any) (service.TriggerResult, error)
}

// EventHandler accepts business events from other systems.
type EventHandler struct {
	dispatch Dispatcher
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(dispatch Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{dispatch: dispatch, logger: logger.With(slog.String("handler", "events"))}
}

type triggerRequest struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Trigger dispatches one event. Delivery happens asynchronously, so the
// response is 202 with the ids of the records created.
// POST /api/events
func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	res, err := h.dispatch.TriggerEvent(r.Context(), req.Event, req.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventSourceNotFound) {
			writeError(w, http.StatusNotFound, "event source not found or inactive: "+req.Event)
			return
		}
		h.logger.ErrorContext(r.Context(), "trigger event failed",
			slog.String("event", req.Event),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
