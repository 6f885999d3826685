package channel

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

type throttled struct {
	Driver
	limiter *rate.Limiter
}

// Throttle caps d at perSec sends per second across all callers. A
// non-positive perSec returns d unchanged.
func Throttle(d Driver, perSec float64) Driver {
	if perSec <= 0 {
		return d
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &throttled{Driver: d, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (t *throttled) Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: throttle wait: %w", t.Channel(), err)
	}
	return t.Driver.Send(ctx, rec, subject, body)
}
