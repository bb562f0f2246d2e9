package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"dronelab/internal/metrics"
)

const defaultQueueSize = 1000

type handler func(Event)

// Bus is an in-process typed publish/subscribe channel. A single dispatch
// goroutine delivers events in publish order, so subscribers see events of
// one lecture in the order they happened.
type Bus struct {
	queue       chan Event
	shutdown    chan struct{}
	done        chan struct{}
	subscribers map[string][]handler
	running     bool
	started     bool
	mu          sync.RWMutex
}

// NewBus creates a bus with the given queue capacity. A non-positive size
// uses the default of 1000.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		queue:       make(chan Event, queueSize),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		subscribers: make(map[string][]handler),
	}
}

// Subscribe registers fn for events of type E. Subscriptions are fixed once
// the bus starts.
func Subscribe[E Event](b *Bus, fn func(E)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrSubscribeRunning
	}

	var zero E
	name := zero.Name()
	b.subscribers[name] = append(b.subscribers[name], func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	})
	return nil
}

// Start launches the dispatch goroutine. It stops when ctx is cancelled or
// Stop is called.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running || b.started {
		b.mu.Unlock()
		return ErrBusAlreadyRunning
	}
	b.running = true
	b.started = true
	b.mu.Unlock()

	log.Info().Str("module", "events").Msg("starting event bus")
	go b.run(ctx)
	return nil
}

// Stop shuts the bus down and waits for the event in flight to finish.
// Queued events not yet dispatched are dropped.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBusNotRunning
	}
	b.running = false
	close(b.shutdown)
	b.mu.Unlock()

	<-b.done
	log.Info().Str("module", "events").Msg("event bus stopped")
	return nil
}

// Publish queues an event without blocking.
func (b *Bus) Publish(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		metrics.EventsDropped.WithLabelValues(e.Name()).Inc()
		return ErrBusNotRunning
	}

	select {
	case b.queue <- e:
		metrics.EventsPublished.WithLabelValues(e.Name()).Inc()
		return nil
	default:
		metrics.EventsDropped.WithLabelValues(e.Name()).Inc()
		log.Warn().Str("module", "events").Str("event", e.Name()).Str("lecture", e.LectureCode()).Msg("event queue full, dropping event")
		return ErrQueueFull
	}
}

// IsRunning reports whether the dispatch goroutine is active.
func (b *Bus) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-b.shutdown:
			return
		case <-ctx.Done():
			b.mu.Lock()
			if b.running {
				b.running = false
				close(b.shutdown)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subscribers[e.Name()]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, e)
	}
}

func (b *Bus) invoke(h handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "events").Str("event", e.Name()).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(e)
}
