package notify

import (
	"context"
	"sync"

	"github.com/pypeaday/soonish/internal/modkit"
)

// Registry dispatches a send to the Driver registered for the delivery
// URL's scheme. Populated once at process startup and immutable
// thereafter (spec.md §9 "process-wide state").
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range d.Schemes() {
		r.drivers[scheme] = d
	}
}

// Send resolves the driver for deliveryURL's scheme and calls it. An
// unsupported scheme is a validation error caught here rather than
// surfaced as a transport failure.
func (r *Registry) Send(ctx context.Context, deliveryURL, title, body string, level Level) (Outcome, error) {
	scheme, err := ParseScheme(deliveryURL)
	if err != nil {
		return Outcome{}, err
	}
	r.mu.RLock()
	d, ok := r.drivers[scheme]
	r.mu.RUnlock()
	if !ok {
		return Outcome{}, modkit.NewError(modkit.KindValidation, "no notifier driver registered for scheme "+scheme)
	}
	out := d.Send(ctx, deliveryURL, title, body, level)
	return out, out.toKindErr()
}
