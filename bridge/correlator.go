package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is how long a call waits for its response.
const DefaultTimeout = 60 * time.Second

// Sender is the one capability the bridge needs from its environment: deliver
// a string to the host. A returned error means the channel is unavailable.
type Sender interface {
	Send(payload string) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(payload string) error

func (fn SenderFunc) Send(payload string) error {
	return fn(payload)
}

// Timer is a scheduled action that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. f must run on its own goroutine, never
// inside AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pendingRequest struct {
	future    *Future
	className string
	method    string
	createdAt time.Time
	timer     Timer
}

// Correlator matches host responses to the calls that caused them.
//
// Every Future it hands out settles exactly once: by a response, by a
// local failure, or by its timeout. Whichever path removes the pending
// entry first wins; the others find nothing and do nothing.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	senderMu sync.RWMutex
	sender   Sender

	ids       *IDGenerator
	timeout   time.Duration
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics
}

func newCorrelator(o *options) *Correlator {
	return &Correlator{
		pending:   make(map[string]*pendingRequest),
		sender:    o.sender,
		ids:       NewIDGenerator(o.idPrefix),
		timeout:   o.timeout,
		scheduler: o.scheduler,
		now:       o.now,
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

func (c *Correlator) setSender(s Sender) {
	c.senderMu.Lock()
	c.sender = s
	c.senderMu.Unlock()
}

func (c *Correlator) currentSender() Sender {
	c.senderMu.RLock()
	defer c.senderMu.RUnlock()
	return c.sender
}

// Initiate sends {id, className, method, params} to the host and returns the
// eventual result. Invalid arguments and a missing or failing transport
// settle the future before Initiate returns.
func (c *Correlator) Initiate(className, method string, params any) *Future {
	if className == "" || method == "" {
		c.metrics.Calls.WithLabelValues(outcomeInvalid).Inc()
		return failedFuture(&CallError{
			Kind:      KindValidation,
			ClassName: className,
			Method:    method,
			Err:       fmt.Errorf("%w: className and method must be non-empty", ErrInvalidArgument),
		})
	}

	rawParams, err := encodeParams(params)
	if err != nil {
		c.metrics.Calls.WithLabelValues(outcomeInvalid).Inc()
		return failedFuture(&CallError{
			Kind:      KindValidation,
			ClassName: className,
			Method:    method,
			Err:       fmt.Errorf("%w: %w", ErrInvalidArgument, err),
		})
	}

	sender := c.currentSender()
	if sender == nil {
		c.metrics.Calls.WithLabelValues(outcomeTransport).Inc()
		c.logger.Warn("call without transport", "class", className, "method", method)
		return failedFuture(&CallError{
			Kind:      KindTransport,
			ClassName: className,
			Method:    method,
			Err:       ErrTransportUnavailable,
		})
	}

	id := c.ids.Next()
	payload, err := json.Marshal(CallMessage{ID: id, ClassName: className, Method: method, Params: rawParams})
	if err != nil {
		c.metrics.Calls.WithLabelValues(outcomeInvalid).Inc()
		return failedFuture(&CallError{
			Kind:      KindValidation,
			ID:        id,
			ClassName: className,
			Method:    method,
			Err:       fmt.Errorf("%w: %w", ErrInvalidArgument, err),
		})
	}

	f := newFuture(id)
	p := &pendingRequest{
		future:    f,
		className: className,
		method:    method,
		createdAt: c.now(),
	}

	// The timer callback takes c.mu, so it cannot observe the table before
	// the entry is in it.
	c.mu.Lock()
	p.timer = c.scheduler.AfterFunc(c.timeout, func() { c.expire(id) })
	c.pending[id] = p
	c.mu.Unlock()
	c.metrics.Pending.Inc()

	c.logger.Debug("call sent", "id", id, "class", className, "method", method)
	if err := sender.Send(string(payload)); err != nil {
		if p, ok := c.take(id); ok {
			c.logger.Warn("send failed", "id", id, "class", className, "method", method, "error", err)
			c.finish(id, p, outcomeTransport, nil, &CallError{
				Kind:      KindTransport,
				ID:        id,
				ClassName: className,
				Method:    method,
				Err:       fmt.Errorf("%w: %w", ErrSendFailed, err),
			})
		}
	}
	return f
}

// SettleSuccess resolves the pending call id with data. It reports whether
// a pending call was found; unknown ids are ignored.
func (c *Correlator) SettleSuccess(id string, data json.RawMessage) bool {
	p, ok := c.take(id)
	if !ok {
		c.logger.Debug("response for unknown id", "id", id)
		return false
	}
	c.finish(id, p, outcomeSuccess, data, nil)
	return true
}

// SettleFailure rejects the pending call id with the host's error payload,
// or a generic unknown-error payload when payload is empty.
func (c *Correlator) SettleFailure(id string, payload json.RawMessage) bool {
	p, ok := c.take(id)
	if !ok {
		c.logger.Debug("error response for unknown id", "id", id)
		return false
	}
	if len(payload) == 0 {
		payload = unknownErrorPayload
	}
	c.finish(id, p, outcomeHostError, nil, &CallError{
		Kind:      KindHost,
		ID:        id,
		ClassName: p.className,
		Method:    p.method,
		Payload:   payload,
		Err:       ErrHostError,
	})
	return true
}

// Pending returns the number of calls awaiting settlement.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id string) {
	p, ok := c.take(id)
	if !ok {
		return
	}
	c.logger.Warn("call timed out", "id", id, "class", p.className, "method", p.method, "timeout", c.timeout)
	c.finish(id, p, outcomeTimeout, nil, &CallError{
		Kind:      KindTimeout,
		ID:        id,
		ClassName: p.className,
		Method:    p.method,
		Payload:   timeoutPayload,
		Err:       ErrTimeout,
	})
}

// take removes id from the table and stops its timer.
func (c *Correlator) take(id string) (*pendingRequest, bool) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	p.timer.Stop()
	c.metrics.Pending.Dec()
	return p, true
}

func (c *Correlator) finish(id string, p *pendingRequest, outcome string, data json.RawMessage, err error) {
	elapsed := c.now().Sub(p.createdAt)
	c.metrics.Calls.WithLabelValues(outcome).Inc()
	c.metrics.RoundTrip.Observe(elapsed.Seconds())
	c.logger.Debug("call settled", "id", id, "class", p.className, "method", p.method, "outcome", outcome, "duration", elapsed)
	if err != nil {
		p.future.reject(err)
		return
	}
	p.future.resolve(data)
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(raw) {
			return nil, errors.New("params are not valid JSON")
		}
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if string(raw) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return raw, nil
}
