package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"progresskit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

const (
	asyncQueueSize = 2048
	asyncWorkers   = 4
)

// EventBus carries notification intents from the aggregator to
// delivery collaborators (realtime hub, webhooks, analytics). It is
// thread-safe and supports sync and async dispatch.
type EventBus struct {
	mode   DispatchMode
	mu     sync.RWMutex
	subs   map[core.EventType]map[int64]func(context.Context, core.Event)
	nextID atomic.Int64

	queue     chan core.Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode: mode,
		subs: make(map[core.EventType]map[int64]func(context.Context, core.Event)),
		done: make(chan struct{}),
	}
	if mode == DispatchAsync {
		eb.queue = make(chan core.Event, asyncQueueSize)
		eb.wg.Add(asyncWorkers)
		for i := 0; i < asyncWorkers; i++ {
			go eb.worker()
		}
	}
	return eb
}

func (e *EventBus) worker() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.queue:
			e.dispatch(context.Background(), ev)
		case <-e.done:
			// drain whatever was queued before shutdown
			for {
				select {
				case ev := <-e.queue:
					e.dispatch(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops async workers after draining the queue. Safe to call
// more than once.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	id := e.nextID.Add(1)

	e.mu.Lock()
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]func(context.Context, core.Event))
	}
	e.subs[typ][id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends an event to subscribers. Async mode drops events when
// the queue is full; delivery is advisory, never transactional.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		select {
		case e.queue <- ev:
		case <-e.done:
		default:
			// drop rather than block the award path
		}
		return
	}
	e.dispatch(ctx, ev)
}

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]func(context.Context, core.Event), 0, len(e.subs[ev.Type]))
	for _, fn := range e.subs[ev.Type] {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
