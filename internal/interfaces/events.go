package interfaces

import "github.com/fancymatt/life-os-sub005/internal/models"

// JobListener receives one job snapshot per delivery. Listeners run on the
// delivery goroutine and must be O(small) per event.
type JobListener func(job models.Job)

// Unsubscribe deregisters the listener it was returned for. Safe to call
// more than once and safe to call from within a listener callback.
type Unsubscribe func()

// Publisher is the write side of the fan-out broadcaster
type Publisher interface {
	Publish(job models.Job)
}

// Subscriber is the read side handed to UI widgets
type Subscriber interface {
	Subscribe(listener JobListener) Unsubscribe
}
