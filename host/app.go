// Package host is a reference host for the bridge: it serves mini-apps over
// websocket, answers their className.method calls and pushes events to them.
package host

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithRateLimit caps calls per socket. Calls over the limit are answered
// with {"reason":"rate_limited"} and never reach a handler.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *App) {
		if rps > 0 && burst > 0 {
			a.limit = rate.Limit(rps)
			a.burst = burst
		}
	}
}

// WithRegisterer registers the host's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

type App struct {
	handlers   sync.Map
	sockets    sync.Map
	middleware []MiddlewareFunc
	onConnect  []ConnectFunc
	onClose    []ConnectFunc
	server     *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	logger     *slog.Logger
	limit      rate.Limit
	burst      int
	registerer prometheus.Registerer
	calls      *prometheus.CounterVec
}

func New(opts ...Option) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
		limit:  rate.Inf,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge_host",
		Name:      "calls_total",
		Help:      "Calls handled by the host, by class, method and result.",
	}, []string{"class", "method", "result"})
	if a.registerer != nil {
		a.registerer.MustRegister(a.calls)
	}
	return a
}

func (a *App) Use(fn MiddlewareFunc) *App {
	a.middleware = append(a.middleware, fn)
	return a
}

// Handle registers handler for className.method, replacing any earlier one.
func (a *App) Handle(className, method string, handler HandlerFunc, middleware ...MiddlewareFunc) *App {
	a.handlers.Store(handlerKey(className, method), &handlerEntry{
		handler:    handler,
		middleware: middleware,
	})
	return a
}

func (a *App) Class(name string) *Class {
	return &Class{app: a, name: name}
}

func (a *App) OnConnect(fn ConnectFunc) *App {
	a.onConnect = append(a.onConnect, fn)
	return a
}

func (a *App) OnDisconnect(fn ConnectFunc) *App {
	a.onClose = append(a.onClose, fn)
	return a
}

// Broadcast pushes an event to every connected socket.
func (a *App) Broadcast(event string, data any) {
	a.sockets.Range(func(_, value any) bool {
		value.(*Socket).Emit(event, data)
		return true
	})
}

func (a *App) GetSocket(socketID string) *Socket {
	if socket, ok := a.sockets.Load(socketID); ok {
		return socket.(*Socket)
	}
	return nil
}

func (a *App) SocketCount() int {
	n := 0
	a.sockets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Handler returns the websocket endpoint, for mounting on a mux or httptest.
func (a *App) Handler() http.Handler {
	return http.HandlerFunc(a.handleWebSocket)
}

func (a *App) Listen(addr string, mux *http.ServeMux) error {
	if mux == nil {
		mux = http.NewServeMux()
		mux.Handle("/", a.Handler())
	}
	a.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	a.logger.Info("host listening", "addr", addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close(ctx context.Context) error {
	a.cancel()
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "error", err)
		return
	}

	socket := newSocket(conn, a, r)
	a.sockets.Store(socket.ID, socket)
	a.logger.Info("socket connected", "socket", socket.ID, "remote", r.RemoteAddr)

	for _, fn := range a.onConnect {
		fn(socket)
	}

	go socket.readPump()
	go socket.writePump()
}
