package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10
)

func deadline() time.Time { return time.Now().Add(writeWait) }

// SessionState is where a connection is in its lifecycle. Disconnected is
// terminal.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected
	StateJoined
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// TransportError is a failure on one client's socket. It only ever ends
// that client's session.
type TransportError struct {
	ConnID string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// Client is one authenticated websocket connection.
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn
	log      *slog.Logger
	limiter  *rate.Limiter

	// Lives as long as the connection; submissions run under it.
	ctx    context.Context
	cancel context.CancelFunc

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// Guarded by the hub's mutex.
	rooms map[string]struct{}
}

func newClient(ctx context.Context, conn *websocket.Conn, identity string, sendBuffer int,
	limiter *rate.Limiter, log *slog.Logger) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		log:      log.With("conn_id", id, "identity", identity),
		limiter:  limiter,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() string { return c.identity }

func (c *Client) State() SessionState { return SessionState(c.state.Load()) }

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// trySend queues frame without blocking. A full buffer means the peer is
// not keeping up: the client is closed and the frame dropped.
func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("Send buffer full, closing connection",
			"error", &TransportError{ConnID: c.id, Op: "send", Err: fmt.Errorf("buffer of %d frames full", cap(c.send))})
		c.Close()
		return false
	}
}

// Close ends the session. The write pump sends a close frame and releases
// the socket; it is safe to call from any goroutine, any number of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		c.cancel()
		close(c.done)
	})
}

func (c *Client) sendFrame(eventType string, payload any) {
	frame, err := EncodeFrame(eventType, payload)
	if err != nil {
		c.log.Error("Failed to encode frame", "type", eventType, "error", err)
		return
	}
	c.trySend(frame)
}

func (c *Client) sendError(message, messageID string) {
	c.sendFrame(EventMessageError, MessageError{Message: message, MessageID: messageID})
}

// readPump decodes frames from the connection and hands them to handle one
// at a time, in arrival order.
func (c *Client) readPump(maxMessageSize int64, handle func(*Client, InboundEvent)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("Connection lost", "error", &TransportError{ConnID: c.id, Op: "read", Err: err})
			}
			return
		}
		if c.State() == StateDisconnected {
			return
		}

		event, err := DecodeInbound(data)
		if err != nil {
			c.log.Debug("Rejected frame", "error", err)
			c.sendError(err.Error(), "")
			continue
		}
		handle(c, event)
	}
}

// writePump writes queued frames, one websocket message each, and keeps
// the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Info("Write failed", "error", &TransportError{ConnID: c.id, Op: "write", Err: err})
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
			return
		}
	}
}

// flush writes whatever is already queued, best effort, before the socket
// goes away.
func (c *Client) flush() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
