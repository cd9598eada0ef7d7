// Package notify delivers auth lifecycle events to the host application.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
)

// Kind names an event.
type Kind string

// KindTokenInvalidated is published when refresh fails for good and the
// stored credentials have been cleared. Hosts typically route to login.
const KindTokenInvalidated Kind = "token_invalidated"

// Event is a single notification.
type Event struct {
	ID     uuid.UUID
	Kind   Kind
	Reason string
	At     time.Time
}

// Observer receives events.
type Observer func(Event)

// Notifier is what the auth pipeline publishes to.
type Notifier interface {
	Publish(Event)
}

// Broadcaster is a Notifier with a subscriber registry.
type Broadcaster struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]Observer
	order     []int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{observers: make(map[int]Observer)}
}

// Subscribe registers o and returns a function that removes it.
func (b *Broadcaster) Subscribe(o Observer) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = o
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.observers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every observer in subscription order on the caller's
// goroutine. A panicking observer is logged and skipped.
func (b *Broadcaster) Publish(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	observers := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		observers = append(observers, b.observers[id])
	}
	b.mu.RUnlock()

	logger.Get().Info().Str("event", string(e.Kind)).Str("event_id", e.ID.String()).Str("reason", e.Reason).Int("observers", len(observers)).Msg("Publishing auth event")

	for _, o := range observers {
		deliver(o, e)
	}
}

func deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error().Interface("panic", r).Str("event_id", e.ID.String()).Msg("Observer panicked")
		}
	}()
	o(e)
}

// Chan adapts a channel to an Observer. Events are dropped when the channel is full.
func Chan(ch chan<- Event) Observer {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			logger.Get().Warn().Str("event_id", e.ID.String()).Msg("Dropped auth event, channel full")
		}
	}
}
