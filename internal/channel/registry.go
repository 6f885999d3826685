// Package channel holds the delivery drivers (email, SMS, chat webhook) and
// the registry that hands them to workers. Drivers are the only place where
// notifyhub talks to the outside world on behalf of a delivery record.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

// Driver sends one rendered message for a delivery record over a single
// transport. A nil error means the transport accepted the message.
type Driver interface {
	Channel() domain.Channel
	Send(ctx context.Context, rec domain.DeliveryRecord, subject, body string) error
}

// Factory builds a driver on first use.
type Factory func() (Driver, error)

// Registry resolves a channel to its driver. Drivers are constructed lazily
// from the factory table and cached for the registry's lifetime. A channel
// without a factory (unknown or disabled) resolves to
// domain.ErrUnknownChannel.
type Registry struct {
	mu        sync.Mutex
	factories map[domain.Channel]Factory
	drivers   map[domain.Channel]Driver
}

// NewRegistry creates a Registry over the given factories. The map is copied.
func NewRegistry(factories map[domain.Channel]Factory) *Registry {
	f := make(map[domain.Channel]Factory, len(factories))
	for ch, fn := range factories {
		if fn != nil {
			f[ch] = fn
		}
	}
	return &Registry{
		factories: f,
		drivers:   make(map[domain.Channel]Driver, len(f)),
	}
}

// Enabled reports whether ch has a factory.
func (r *Registry) Enabled(ch domain.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[ch]
	return ok
}

// Driver returns the cached driver for ch, constructing it on first call.
// A failed construction is not cached, so the next call tries again.
func (r *Registry) Driver(ch domain.Channel) (Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[ch]; ok {
		return d, nil
	}
	factory, ok := r.factories[ch]
	if !ok {
		return nil, fmt.Errorf("channel: %w: %q", domain.ErrUnknownChannel, ch)
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("channel: build %s driver: %w", ch, err)
	}
	d = instrument(d)
	r.drivers[ch] = d
	return d, nil
}
