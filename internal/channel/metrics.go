package channel

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

var (
	driverSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyhub_driver_send_total",
			Help: "Total channel driver send attempts by channel and status.",
		},
		[]string{"channel", "status"},
	)
	driverSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyhub_driver_send_duration_seconds",
			Help:    "Duration of channel driver sends.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "status"},
	)
)

type instrumented struct {
	Driver
}

func instrument(d Driver) Driver {
	return instrumented{Driver: d}
}

func (i instrumented) Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error {
	start := time.Now()
	err := i.Driver.Send(ctx, rec, subject, body)
	status := "success"
	if err != nil {
		status = "error"
	}
	ch := string(i.Channel())
	driverSendTotal.WithLabelValues(ch, status).Inc()
	driverSendDuration.WithLabelValues(ch, status).Observe(time.Since(start).Seconds())
	return err
}
