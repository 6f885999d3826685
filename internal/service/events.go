package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// publishEvent announces a record's current state on the status bus. Bus
// errors are logged only; the store is the source of truth.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, rec domain.DeliveryRecord) {
	if bus == nil {
		return
	}
	ev := domain.DeliveryEvent{
		RecordID:      rec.ID,
		EventSourceID: rec.EventSourceID,
		Channel:       rec.Channel,
		Status:        rec.Status,
		Attempts:      rec.Attempts,
		At:            time.Now().UTC(),
	}
	if rec.ErrorMessage != nil {
		ev.Error = *rec.ErrorMessage
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.WarnContext(ctx, "encode delivery event failed", slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, domain.DeliveryEventsChannel, data); err != nil {
		logger.WarnContext(ctx, "publish delivery event failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
