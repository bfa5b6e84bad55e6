package terminal

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// DefaultQueueDepth is the event queue capacity used when none is given.
const DefaultQueueDepth = 256

// Observer sees every event before the session's callbacks do.
type Observer func(Event)

// Dispatcher delivers events from every session through a single queue to a
// single goroutine. Publishing blocks while the queue is full, which stalls
// the publishing session's reader until the consumer catches up.
type Dispatcher struct {
	queue   chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu        sync.RWMutex
	routes    map[schema.SessionID]Callbacks
	fallback  Callbacks
	observers []Observer

	log *zap.Logger
}

// NewDispatcher starts a dispatcher. fallback receives events for sessions
// without a route and may be nil.
func NewDispatcher(depth int, fallback Callbacks, log *zap.Logger) *Dispatcher {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		queue:    make(chan Event, depth),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		routes:   make(map[schema.SessionID]Callbacks),
		fallback: fallback,
		log:      log,
	}
	go d.run()
	return d
}

// Route sends events for id to cb.
func (d *Dispatcher) Route(id schema.SessionID, cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[id] = cb
}

// Unroute drops the callbacks for id.
func (d *Dispatcher) Unroute(id schema.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routes, id)
}

// Observe registers fn to see every event.
func (d *Dispatcher) Observe(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Publish queues ev, blocking while the queue is full.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	select {
	case <-d.done:
		return errors.Errorf("publish %s for session %d: %w", ev.Kind, ev.SessionID, schema.ErrDispatcherClosed)
	default:
	}
	select {
	case d.queue <- ev:
		return nil
	case <-d.done:
		return errors.Errorf("publish %s for session %d: %w", ev.Kind, ev.SessionID, schema.ErrDispatcherClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatcher after delivering what is already queued.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.queue:
					d.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatch(ev Event) {
	d.mu.RLock()
	cb, ok := d.routes[ev.SessionID]
	if !ok {
		cb = d.fallback
	}
	observers := d.observers
	d.mu.RUnlock()

	for _, obs := range observers {
		d.safely(ev, func() { obs(ev) })
	}
	if cb != nil {
		d.safely(ev, func() { deliver(cb, ev) })
	}
	if ev.Kind == EventExit {
		d.Unroute(ev.SessionID)
	}
}

// safely isolates a panicking consumer to the event that triggered it.
func (d *Dispatcher) safely(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event callback panicked",
				zap.Uint32("session", uint32(ev.SessionID)),
				zap.Stringer("kind", ev.Kind),
				zap.Any("panic", r))
		}
	}()
	fn()
}
