package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/z3r0dayexplo1t/bridge.gg-go/bridge"
)

var rateLimitedPayload = map[string]any{"reason": "rate_limited"}

type Socket struct {
	ID       string
	conn     *websocket.Conn
	app      *App
	data     sync.Map
	sendChan chan []byte
	limiter  *rate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc
	info     *http.Request
	once     sync.Once
}

func newSocket(conn *websocket.Conn, app *App, req *http.Request) *Socket {
	ctx, cancel := context.WithCancel(app.ctx)

	return &Socket{
		ID:       uuid.New().String(),
		conn:     conn,
		app:      app,
		sendChan: make(chan []byte, 256),
		limiter:  rate.NewLimiter(app.limit, app.burst),
		ctx:      ctx,
		cancel:   cancel,
		info:     req,
	}
}

// Info is the HTTP request that opened the socket.
func (s *Socket) Info() *http.Request {
	return s.info
}

func (s *Socket) Set(key string, value any) {
	s.data.Store(key, value)
}

func (s *Socket) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// Emit pushes {event, data} to the mini-app. Data that cannot be encoded
// is logged and dropped.
func (s *Socket) Emit(event string, data any) {
	if err := s.emit(bridge.EventMessage{Event: event, Data: data}); err != nil {
		s.app.logger.Error("dropping event", "socket", s.ID, "event", event, "error", err)
	}
}

// Close ends the connection.
func (s *Socket) Close() {
	s.disconnect()
}

func (s *Socket) readPump() {
	defer s.disconnect()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg bridge.CallMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
			s.app.logger.Warn("dropping malformed call", "socket", s.ID, "error", err)
			continue
		}

		go s.handleMessage(&msg)
	}
}

// writePump owns every write to conn; frames arrive already encoded.
func (s *Socket) writePump() {
	defer s.disconnect()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.sendChan:
			if err := s.conn.Write(s.ctx, websocket.MessageText, frame); err != nil {
				if s.ctx.Err() == nil {
					s.app.logger.Warn("socket write failed", "socket", s.ID, "error", err)
				}
				return
			}
		}
	}
}

func (s *Socket) handleMessage(msg *bridge.CallMessage) {
	if !s.limiter.Allow() {
		s.app.calls.WithLabelValues(msg.ClassName, msg.Method, "rate_limited").Inc()
		s.reply(msg.ID, nil, Fail(rateLimitedPayload))
		return
	}

	req := &Request{
		ID:        msg.ID,
		ClassName: msg.ClassName,
		Method:    msg.Method,
		Params:    msg.Params,
		Socket:    s,
		App:       s.app,
		ctx:       s.ctx,
	}

	route := func() (any, error) {
		entry, ok := s.app.handlers.Load(handlerKey(msg.ClassName, msg.Method))
		if !ok {
			return nil, fmt.Errorf("no handler for %s", handlerKey(msg.ClassName, msg.Method))
		}
		he := entry.(*handlerEntry)
		return chain(he.middleware, req, func() (any, error) { return he.handler(req) })()
	}
	result, err := chain(s.app.middleware, req, route)()

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.app.calls.WithLabelValues(msg.ClassName, msg.Method, outcome).Inc()
	s.reply(msg.ID, result, err)
}

// reply always answers id, falling back to an error payload when the
// handler's result or failure payload cannot be encoded.
func (s *Socket) reply(id string, result any, err error) {
	var resp bridge.ResponseMessage
	var hostErr *Error
	switch {
	case err == nil:
		resp = bridge.ResponseMessage{ID: id, Success: true, Data: result}
	case errors.As(err, &hostErr):
		resp = bridge.ResponseMessage{ID: id, Error: hostErr.Payload}
	default:
		resp = bridge.ResponseMessage{ID: id, Error: map[string]any{"message": err.Error()}}
	}

	if encErr := s.emit(resp); encErr != nil {
		s.app.logger.Error("unencodable reply", "socket", s.ID, "id", id, "error", encErr)
		_ = s.emit(bridge.ResponseMessage{ID: id, Error: map[string]any{"message": "encode reply: " + encErr.Error()}})
	}
}

// chain wraps final so that middleware[0] runs first.
func chain(middleware []MiddlewareFunc, req *Request, final NextFunc) NextFunc {
	next := final
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, inner := middleware[i], next
		next = func() (any, error) { return mw(req, inner) }
	}
	return next
}

func (s *Socket) emit(msg any) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.sendChan <- frame:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Socket) disconnect() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "")
		s.app.sockets.Delete(s.ID)
		s.app.logger.Info("socket disconnected", "socket", s.ID)

		for _, fn := range s.app.onClose {
			fn(s)
		}
	})
}
