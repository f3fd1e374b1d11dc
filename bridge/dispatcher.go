package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// ListenerFunc handles one event delivery.
type ListenerFunc func(data json.RawMessage) error

// Listener is a subscription handle. Its pointer identity is what
// RemoveListener matches on, so the same *Listener must be passed to both.
type Listener struct {
	fn ListenerFunc
}

// NewListener wraps fn in a new handle.
func NewListener(fn ListenerFunc) *Listener {
	return &Listener{fn: fn}
}

// Dispatcher fans events out to named listener lists.
//
// Listeners run in subscription order. A listener that fails, by error or
// panic, is logged and skipped; the rest still run and the publisher never
// sees the failure. Event names with no listeners are not kept.
//
// Enqueued events are delivered on a single goroutine in enqueue order, off
// the caller's stack. A listener may therefore block on a Call whose response
// arrives through the same Receive path.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[string][]*Listener
	queue     eventQueue

	logger  *slog.Logger
	metrics *Metrics
}

func newDispatcher(o *options) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[string][]*Listener),
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

// Subscribe appends l to the event's listeners and returns a function that
// removes it again. Invalid input is logged and yields a no-op function.
func (d *Dispatcher) Subscribe(event string, l *Listener) func() {
	if event == "" {
		d.logger.Error("subscribe: event name must be non-empty")
		return func() {}
	}
	if l == nil || l.fn == nil {
		d.logger.Error("subscribe: listener must be callable", "event", event)
		return func() {}
	}

	d.mu.Lock()
	d.listeners[event] = append(d.listeners[event], l)
	d.mu.Unlock()

	return func() { d.Unsubscribe(event, l) }
}

// Unsubscribe removes every registration of l for event.
func (d *Dispatcher) Unsubscribe(event string, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.listeners[event]
	if !ok {
		return
	}
	// Copy rather than filter in place: Publish may be iterating a snapshot
	// of the old slice.
	kept := make([]*Listener, 0, len(current))
	for _, existing := range current {
		if existing != l {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(d.listeners, event)
		return
	}
	d.listeners[event] = kept
}

// Enqueue schedules Publish(event, data) behind every event enqueued before
// it. It never blocks.
func (d *Dispatcher) Enqueue(event string, data json.RawMessage) {
	d.queue.push(func() { d.Publish(event, data) })
}

// Publish delivers data to every listener of event on the calling goroutine.
// Publishing to an event nobody listens to is a no-op.
func (d *Dispatcher) Publish(event string, data json.RawMessage) {
	d.mu.Lock()
	snapshot := d.listeners[event]
	d.mu.Unlock()

	if len(snapshot) == 0 {
		d.metrics.Events.WithLabelValues("false").Inc()
		return
	}
	d.metrics.Events.WithLabelValues("true").Inc()

	for i, l := range snapshot {
		if err := d.invoke(l, data); err != nil {
			d.metrics.ListenerFailures.WithLabelValues(event).Inc()
			d.logger.Error("listener failed", "event", event, "index", i, "error", err)
		}
	}
}

func (d *Dispatcher) invoke(l *Listener, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.fn(data)
}

// EventNames returns the events that currently have listeners, sorted.
func (d *Dispatcher) EventNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.listeners))
}

func (d *Dispatcher) ListenerCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[event])
}
