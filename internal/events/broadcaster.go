// -----------------------------------------------------------------------
// Broadcaster - Fans one job feed out to many widget listeners
// -----------------------------------------------------------------------

package events

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/fancymatt/life-os-sub005/internal/interfaces"
	"github.com/fancymatt/life-os-sub005/internal/models"
)

// subscription wraps a listener so each subscriber gets a unique handle;
// removal is by handle identity, never by comparing function values.
type subscription struct {
	listener interfaces.JobListener
}

// Broadcaster decouples the single physical feed connection from any number
// of widget listeners. Delivery is synchronous and in registration order.
// Publish iterates a snapshot of the listener list, so listeners may
// subscribe or unsubscribe (themselves or others) from within a callback
// without corrupting the in-flight notification pass. There is no replay:
// a listener subscribed after a snapshot was delivered never sees it.
type Broadcaster struct {
	mu        sync.Mutex
	listeners []*subscription
	closed    bool
	logger    arbor.ILogger
}

// NewBroadcaster creates a broadcaster with no listeners
func NewBroadcaster(logger arbor.ILogger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
	}
}

// Subscribe registers a listener and returns the capability to remove it.
// The returned function is idempotent.
func (b *Broadcaster) Subscribe(listener interfaces.JobListener) interfaces.Unsubscribe {
	if listener == nil {
		return func() {}
	}

	sub := &subscription{listener: listener}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.listeners = append(b.listeners, sub)
	count := len(b.listeners)
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug().Int("listener_count", count).Msg("Listener subscribed")
	}

	return func() { b.remove(sub) }
}

// Publish delivers one job snapshot to every currently subscribed listener.
// A panicking listener is logged and skipped; it never blocks delivery to
// the listeners after it.
func (b *Broadcaster) Publish(job models.Job) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// Copy-on-read: mutations during the pass touch b.listeners, not this
	// snapshot, so the pass stays index-stable.
	snapshot := make([]*subscription, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, job)
	}
}

// ListenerCount returns the number of currently subscribed listeners
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Close drops all listeners. Publish and Subscribe become no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.listeners = nil
	b.closed = true
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug().Msg("Broadcaster closed")
	}
}

func (b *Broadcaster) deliver(sub *subscription, job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error().
					Str("job_id", job.ID).
					Str("panic", fmt.Sprintf("%v", r)).
					Msg("Listener panicked during delivery")
			}
		}
	}()

	sub.listener(job)
}

func (b *Broadcaster) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.listeners {
		if s == sub {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}
