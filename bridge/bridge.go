package bridge

import (
	"encoding/json"
	"log/slog"
)

// Version is the bridge protocol version announced by NotifyReady.
const Version = "1.0.0"

// Bridge ties a Correlator, a Dispatcher and a ParamsStore to one inbound
// entry point.
type Bridge struct {
	correlator *Correlator
	dispatcher *Dispatcher
	params     *ParamsStore

	logger  *slog.Logger
	metrics *Metrics
}

func New(opts ...Option) *Bridge {
	o := buildOptions(opts)
	d := newDispatcher(o)
	return &Bridge{
		correlator: newCorrelator(o),
		dispatcher: d,
		params:     newParamsStore(d),
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Attach installs s as the transport. Attaching nil makes later calls fail
// with ErrTransportUnavailable. Calls already in flight are unaffected.
func (b *Bridge) Attach(s Sender) {
	b.correlator.setSender(s)
}

// Call invokes className.method on the host.
func (b *Bridge) Call(className, method string, params any) *Future {
	return b.correlator.Initiate(className, method, params)
}

// NotifyReady tells the host the mini-app side is up.
func (b *Bridge) NotifyReady() *Future {
	return b.Call("MiniAppBridge", "ready", map[string]any{"version": Version})
}

// AddListener subscribes l to event and returns its unsubscribe function.
func (b *Bridge) AddListener(event string, l *Listener) func() {
	return b.dispatcher.Subscribe(event, l)
}

// On subscribes fn under a fresh Listener.
func (b *Bridge) On(event string, fn ListenerFunc) func() {
	return b.dispatcher.Subscribe(event, NewListener(fn))
}

func (b *Bridge) RemoveListener(event string, l *Listener) {
	b.dispatcher.Unsubscribe(event, l)
}

func (b *Bridge) EventNames() []string {
	return b.dispatcher.EventNames()
}

func (b *Bridge) GetParam(key string) (any, bool) {
	return b.params.Get(key)
}

func (b *Bridge) GetParams() map[string]any {
	return b.params.All()
}

func (b *Bridge) UpdateParams(partial map[string]any) error {
	return b.params.Update(partial)
}

func (b *Bridge) Pending() int {
	return b.correlator.Pending()
}

// Receive handles one message from the host. raw may be JSON text as a
// string, []byte or json.RawMessage, or any value that marshals to the
// message object. Nothing is returned: malformed and unknown messages are
// logged and dropped.
//
// Responses settle before Receive returns. Events are queued for ordered
// delivery on the dispatcher's goroutine. A paramsUpdated event carrying an
// object is merged into the params store first, and its listeners see the
// whole store.
func (b *Bridge) Receive(raw any) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			b.drop("unencodable", err)
			return
		}
		data = encoded
	}

	msg, err := ParseInbound(data)
	if err != nil {
		b.drop("malformed", err)
		return
	}

	switch msg.Kind {
	case MessageEvent:
		if msg.Event == EventParamsUpdated && b.params.apply(msg.Data) {
			return
		}
		b.dispatcher.Enqueue(msg.Event, msg.Data)
	case MessageResponse:
		if msg.Success {
			b.correlator.SettleSuccess(msg.ID, msg.Data)
		} else {
			b.correlator.SettleFailure(msg.ID, msg.Error)
		}
	case MessageUnrecognized:
		b.metrics.Dropped.WithLabelValues("unrecognized").Inc()
		b.logger.Debug("ignoring unrecognized message")
	}
}

func (b *Bridge) drop(reason string, err error) {
	b.metrics.Dropped.WithLabelValues(reason).Inc()
	b.logger.Warn("dropping inbound message", "reason", reason, "error", err)
}
