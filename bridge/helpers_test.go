package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler records timers and fires them only when told to.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireAll runs every timer that has not been stopped or fired yet.
func (s *fakeScheduler) FireAll() {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Fire runs timer i even if it was stopped, as a timer racing its Stop would.
func (s *fakeScheduler) Fire(i int) {
	s.mu.Lock()
	t := s.timers[i]
	t.fired = true
	s.mu.Unlock()
	t.f()
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (s *recordingSender) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, payload)
	return nil
}

func (s *recordingSender) Messages() []CallMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallMessage, 0, len(s.msgs))
	for _, m := range s.msgs {
		var msg CallMessage
		if err := json.Unmarshal([]byte(m), &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (s *recordingSender) Last(t *testing.T) CallMessage {
	t.Helper()
	msgs := s.Messages()
	require.NotEmpty(t, msgs, "no message was sent")
	return msgs[len(msgs)-1]
}

var errChannelClosed = errors.New("channel closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(opts ...Option) (*Bridge, *recordingSender, *fakeScheduler) {
	sender := &recordingSender{}
	sched := &fakeScheduler{}
	base := []Option{
		WithSender(sender),
		WithScheduler(sched),
		WithLogger(discardLogger()),
	}
	return New(append(base, opts...)...), sender, sched
}

// flush waits until every event queued so far has been delivered.
func flush(t *testing.T, b *Bridge) {
	t.Helper()
	done := make(chan struct{})
	b.dispatcher.queue.push(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event queue did not drain")
	}
}
