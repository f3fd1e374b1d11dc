// Package transport carries bridge messages between a mini-app and its host
// over a websocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

var (
	ErrClosed    = errors.New("transport closed")
	ErrQueueFull = errors.New("transport send queue full")
)

const defaultQueueSize = 256

// Receiver consumes inbound frames. *bridge.Bridge satisfies it.
type Receiver interface {
	Receive(raw any)
}

type Option func(*Conn)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

func WithQueueSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.sendChan = make(chan string, n)
		}
	}
}

// Conn is the mini-app end of a websocket. It implements bridge.Sender.
type Conn struct {
	conn     *websocket.Conn
	recv     Receiver
	sendChan chan string
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to url and starts delivering inbound text frames to recv.
func Dial(ctx context.Context, url string, recv Receiver, opts ...Option) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:     ws,
		recv:     recv,
		sendChan: make(chan string, defaultQueueSize),
		logger:   slog.Default(),
		ctx:      connCtx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Send queues payload for the write pump without blocking.
func (c *Conn) Send(payload string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case c.sendChan <- payload:
	default:
		return ErrQueueFull
	}

	// A shutdown racing the enqueue leaves the payload unwritten.
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Close() error {
	c.shutdown(websocket.StatusNormalClosure, "")
	c.wg.Wait()
	return nil
}

func (c *Conn) readPump() {
	defer c.wg.Done()
	defer c.shutdown(websocket.StatusNormalClosure, "")

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Info("websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.logger.Warn("ignoring non-text frame", "type", typ.String())
			continue
		}
		c.recv.Receive(string(data))
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()
	defer c.shutdown(websocket.StatusInternalError, "write failed")

	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.sendChan:
			if err := c.conn.Write(c.ctx, websocket.MessageText, []byte(payload)); err != nil {
				if c.ctx.Err() == nil {
					c.logger.Warn("websocket write failed", "error", err)
				}
				return
			}
		}
	}
}

func (c *Conn) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close(code, reason)
	})
}
