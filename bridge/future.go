package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Future is the eventual result of a Call.
//
// It is settled exactly once, either with the host's data or with a
// *CallError. Later settlement attempts are ignored.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	data json.RawMessage
	err  error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// failedFuture returns a future that is already settled with err.
func failedFuture(err error) *Future {
	f := newFuture("")
	f.reject(err)
	return f
}

// ID is the request id the future is keyed by. Empty when the call never
// got as far as id assignment.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done. Giving up on ctx does
// not cancel the request; it still settles on response or timeout.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrNotSettled.
func (f *Future) Result() (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.data, f.err
	default:
		return nil, ErrNotSettled
	}
}

// Decode waits for the result and unmarshals it into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	data, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode result of %s: %w", f.id, err)
	}
	return nil
}

// OnDone runs cb in its own goroutine once the future settles.
func (f *Future) OnDone(cb func(json.RawMessage, error)) {
	go func() {
		<-f.done
		cb(f.data, f.err)
	}()
}

func (f *Future) resolve(data json.RawMessage) bool {
	return f.settle(data, nil)
}

func (f *Future) reject(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(data json.RawMessage, err error) bool {
	settled := false
	f.once.Do(func() {
		f.data = data
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}
