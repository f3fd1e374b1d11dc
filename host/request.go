package host

import (
	"context"
	"encoding/json"
	"fmt"
)

type Request struct {
	ID        string
	ClassName string
	Method    string
	Params    json.RawMessage
	Socket    *Socket
	App       *App
	ctx       context.Context
}

func (r *Request) Context() context.Context {
	return r.ctx
}

// Bind decodes the call params into v.
func (r *Request) Bind(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return Fail(map[string]any{"message": fmt.Sprintf("invalid params: %v", err)})
	}
	return nil
}

func (r *Request) Emit(event string, data any) {
	r.Socket.Emit(event, data)
}

func (r *Request) Set(key string, value any) {
	r.Socket.data.Store(key, value)
}

func (r *Request) Get(key string) (any, bool) {
	return r.Socket.data.Load(key)
}

func (r *Request) Broadcast(event string, data any) {
	r.App.Broadcast(event, data)
}
