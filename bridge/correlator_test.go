package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledErr(t *testing.T, f *Future) error {
	t.Helper()
	require.True(t, f.Settled(), "future should be settled")
	_, err := f.Result()
	return err
}

func TestCall_SendsOneMessageWithFreshID(t *testing.T) {
	b, sender, _ := newTestBridge()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		f := b.Call("Device", "getInfo", map[string]any{"n": i})
		require.NotEmpty(t, f.ID())
		assert.False(t, seen[f.ID()], "id %s reused", f.ID())
		seen[f.ID()] = true
	}

	msgs := sender.Messages()
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.True(t, seen[msg.ID])
		assert.Equal(t, "Device", msg.ClassName)
		assert.Equal(t, "getInfo", msg.Method)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(msg.Params))
	}
	assert.Equal(t, 5, b.Pending())
}

func TestCall_NilParamsSendEmptyObject(t *testing.T) {
	b, sender, _ := newTestBridge()

	b.Call("a", "b", nil)
	b.Call("a", "b", json.RawMessage(nil))

	for _, msg := range sender.Messages() {
		assert.JSONEq(t, `{}`, string(msg.Params))
	}
}

func TestCall_WireFormat(t *testing.T) {
	b, sender, _ := newTestBridge(WithIDPrefix("app"))

	f := b.Call("Storage", "get", map[string]string{"key": "k"})

	sender.mu.Lock()
	raw := sender.msgs[0]
	sender.mu.Unlock()
	assert.JSONEq(t,
		fmt.Sprintf(`{"id":%q,"className":"Storage","method":"get","params":{"key":"k"}}`, f.ID()),
		raw)
	assert.Regexp(t, `^app_\d+_1$`, f.ID())
}

func TestCall_RoundTripSuccess(t *testing.T) {
	b, sender, sched := newTestBridge()

	f := b.Call("a", "b", map[string]any{})
	id := sender.Last(t).ID

	b.Receive(fmt.Sprintf(`{"id":%q,"success":true,"data":{"v":1}}`, id))

	data, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(data))
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, 0, sched.Active(), "timeout should be cancelled")
}

func TestCall_SuccessWithoutData(t *testing.T) {
	b, sender, _ := newTestBridge()

	f := b.Call("a", "b", nil)
	b.Receive(fmt.Sprintf(`{"id":%q,"success":true}`, sender.Last(t).ID))

	data, err := f.Result()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCall_HostError(t *testing.T) {
	b, sender, sched := newTestBridge()

	f := b.Call("a", "b", nil)
	b.Receive(fmt.Sprintf(`{"id":%q,"success":false,"error":{"code":42}}`, sender.Last(t).ID))

	err := settledErr(t, f)
	require.ErrorIs(t, err, ErrHostError)
	assert.True(t, IsHostError(err))

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.JSONEq(t, `{"code":42}`, string(ce.Payload))
	assert.Equal(t, "a", ce.ClassName)
	assert.Equal(t, "b", ce.Method)
	assert.Equal(t, f.ID(), ce.ID)
	assert.Equal(t, 0, sched.Active())
}

func TestCall_HostErrorWithoutPayload(t *testing.T) {
	b, sender, _ := newTestBridge()

	f := b.Call("a", "b", nil)
	b.Receive(fmt.Sprintf(`{"id":%q,"success":false,"data":{"ignored":true}}`, sender.Last(t).ID))

	var ce *CallError
	require.ErrorAs(t, settledErr(t, f), &ce)
	assert.Equal(t, KindHost, ce.Kind)
	assert.JSONEq(t, `{"message":"Unknown error"}`, string(ce.Payload))
}

func TestCall_Timeout(t *testing.T) {
	b, _, sched := newTestBridge(WithTimeout(5 * time.Second))

	f := b.Call("a", "b", nil)
	require.Equal(t, 1, sched.Created())
	assert.Equal(t, 5*time.Second, sched.timers[0].d)
	assert.False(t, f.Settled())

	sched.FireAll()

	err := settledErr(t, f)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTimeout(err))
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.JSONEq(t, `{"reason":"timeout"}`, string(ce.Payload))
	assert.Equal(t, 0, b.Pending())
}

func TestCall_DefaultTimeout(t *testing.T) {
	b, _, sched := newTestBridge()

	b.Call("a", "b", nil)

	require.Equal(t, 1, sched.Created())
	assert.Equal(t, DefaultTimeout, sched.timers[0].d)
}

func TestCall_SettlesExactlyOnce(t *testing.T) {
	b, sender, sched := newTestBridge()

	f := b.Call("a", "b", nil)
	id := sender.Last(t).ID

	b.Receive(fmt.Sprintf(`{"id":%q,"success":true,"data":"first"}`, id))
	b.Receive(fmt.Sprintf(`{"id":%q,"success":false,"error":"second"}`, id))
	sched.Fire(0)

	data, err := f.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"first"`, string(data))
	assert.Equal(t, 0, b.Pending())
}

func TestCall_TimeoutThenLateResponse(t *testing.T) {
	b, sender, sched := newTestBridge()

	f := b.Call("a", "b", nil)
	id := sender.Last(t).ID
	sched.FireAll()

	assert.False(t, b.correlator.SettleSuccess(id, json.RawMessage(`1`)))
	assert.True(t, IsTimeout(settledErr(t, f)))
}

func TestCall_UnknownIDIsNoop(t *testing.T) {
	b, _, _ := newTestBridge()
	f := b.Call("a", "b", nil)

	assert.NotPanics(t, func() {
		assert.False(t, b.correlator.SettleSuccess("nope", nil))
		assert.False(t, b.correlator.SettleFailure("nope", nil))
		b.correlator.expire("nope")
	})
	assert.False(t, f.Settled())
	assert.Equal(t, 1, b.Pending())
}

func TestCall_ValidationFailsWithoutSending(t *testing.T) {
	tests := []struct {
		name      string
		className string
		method    string
		params    any
	}{
		{name: "empty class", className: "", method: "m"},
		{name: "empty method", className: "c", method: ""},
		{name: "unencodable params", className: "c", method: "m", params: make(chan int)},
		{name: "invalid raw params", className: "c", method: "m", params: json.RawMessage(`{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, sender, sched := newTestBridge()

			f := b.Call(tt.className, tt.method, tt.params)

			err := settledErr(t, f)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.True(t, IsValidation(err))
			assert.Empty(t, sender.Messages())
			assert.Equal(t, 0, sched.Created())
			assert.Equal(t, 0, b.Pending())
		})
	}
}

func TestCall_NoTransport(t *testing.T) {
	sched := &fakeScheduler{}
	b := New(WithScheduler(sched), WithLogger(discardLogger()))

	f := b.Call("a", "b", map[string]any{})

	err := settledErr(t, f)
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, sched.Active(), "no timeout may be left scheduled")
	assert.Equal(t, 0, b.Pending())
}

func TestCall_SendFails(t *testing.T) {
	b, sender, sched := newTestBridge()
	sender.err = errChannelClosed

	f := b.Call("a", "b", nil)

	err := settledErr(t, f)
	require.ErrorIs(t, err, ErrSendFailed)
	require.ErrorIs(t, err, errChannelClosed)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, sched.Active())
	assert.Equal(t, 0, b.Pending())
}

func TestCall_AttachAndDetach(t *testing.T) {
	sched := &fakeScheduler{}
	b := New(WithScheduler(sched), WithLogger(discardLogger()))
	sender := &recordingSender{}

	b.Attach(sender)
	f := b.Call("a", "b", nil)
	assert.False(t, f.Settled())
	require.Len(t, sender.Messages(), 1)

	b.Attach(nil)
	assert.True(t, IsTransport(settledErr(t, b.Call("a", "b", nil))))
	assert.False(t, f.Settled(), "in-flight call is unaffected by detaching")
}

func TestCall_ResponseDuringSend(t *testing.T) {
	sched := &fakeScheduler{}
	b := New(WithScheduler(sched), WithLogger(discardLogger()))
	b.Attach(SenderFunc(func(payload string) error {
		var msg CallMessage
		require.NoError(t, json.Unmarshal([]byte(payload), &msg))
		b.Receive(ResponseMessage{ID: msg.ID, Success: true, Data: msg.Params})
		return nil
	}))

	f := b.Call("Echo", "echo", map[string]any{"x": 1})

	data, err := f.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(data))
	assert.Equal(t, 0, sched.Active())
}

func TestCall_RealTimer(t *testing.T) {
	b := New(
		WithSender(&recordingSender{}),
		WithTimeout(20*time.Millisecond),
		WithLogger(discardLogger()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := b.Call("slow", "op", nil).Wait(ctx)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 0, b.Pending())
}

func TestCall_ConcurrentCallers(t *testing.T) {
	var b *Bridge
	b = New(
		WithScheduler(&fakeScheduler{}),
		WithLogger(discardLogger()),
		WithSender(SenderFunc(func(payload string) error {
			var msg CallMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				return err
			}
			go b.Receive(ResponseMessage{ID: msg.ID, Success: true, Data: msg.ID})
			return nil
		})),
	)

	const n = 100
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := b.Call("c", "m", nil)
			var got string
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := f.Decode(ctx, &got); err == nil && got == f.ID() {
				results[i] = got
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range results {
		require.NotEmpty(t, id, "every call must get its own response")
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, 0, b.Pending())
}

func TestCall_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b, sender, sched := newTestBridge(WithMetrics(m))

	ok := b.Call("a", "b", nil)
	b.Receive(fmt.Sprintf(`{"id":%q,"success":true}`, sender.Last(t).ID))
	require.True(t, ok.Settled())

	b.Call("a", "b", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending))
	sched.FireAll()

	b.Call("", "b", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(outcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(outcomeInvalid)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "bridge_round_trip_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}
