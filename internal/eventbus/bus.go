// Package eventbus fans device events out to observers (remote broadcast,
// audit) without blocking the program executor.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event.
type EventType string

const (
	EventTypeLightState      EventType = "light_state"
	EventTypeProgramAccepted EventType = "program_accepted"
	EventTypeProgramExecuted EventType = "program_executed"
	EventTypeTimeSynced      EventType = "time_synced"
)

// Default configuration. A single worker keeps delivery in publish order.
const (
	DefaultWorkerCount = 1
	DefaultQueueSize   = 256
)

// Event is a published notification. Payload type depends on Type:
// LightState for light_state, ProgramAccepted for program_accepted,
// ProgramExecuted for program_executed and TimeSynced for time_synced.
type Event struct {
	Type    EventType
	Payload any
}

// LightState is the level committed to the output.
type LightState struct {
	CW uint8
	WW uint8
}

// ProgramAccepted carries the raw bytes of a newly stored upload.
type ProgramAccepted struct {
	ID  string
	Raw []byte
}

// ProgramExecuted reports a finished program run.
type ProgramExecuted struct {
	ID  string
	Err error
}

// TimeSynced reports a wall clock update.
type TimeSynced struct {
	EpochSeconds int64
}

// Handler is a function that handles events.
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a bounded worker pool.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// closing is closed before workQueue so publishers never send on a closed channel
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues the event for every subscribed handler.
// Non-blocking: if the queue is full or the bus is closing, the event is dropped.
// A nil bus drops everything, which lets components run without observers.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	// The read lock is held across the sends so Close cannot close the
	// queue underneath them.
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closing:
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	default:
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events, drains the queue and waits for workers
// until ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		close(b.workQueue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
