// Package relay manages individual client connections: lifecycle state,
// buffered outbound delivery, and the read/write pumps that move frames
// between the WebSocket and the engine.
package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection lifecycle states. A connection that fails a precondition never
// reaches StateJoined.
const (
	StateConnecting int32 = iota
	StateJoined
	StateClosing
	StateClosed
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// Client represents one WebSocket connection bound to a single room for its
// whole life. The engine is the sole mutator of the state word; the registry
// is the sole mutator of room membership.
type Client struct {
	sessionID string
	roomID    string
	addr      string
	limiterID string

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	engine *Engine

	state     atomic.Int32
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, engine *Engine, roomID, remoteAddr string) *Client {
	c := &Client{
		sessionID: uuid.NewString(),
		roomID:    roomID,
		addr:      remoteAddr,
		limiterID: limiterIdentity(roomID, remoteAddr),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		engine:    engine,
	}
	c.state.Store(StateConnecting)
	return c
}

// limiterIdentity derives the rate-limit key from room plus peer host. The
// port is stripped so successive connections from the same peer into the
// same room inherit the same budget.
func limiterIdentity(roomID, remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return roomID + ":" + host
}

func (c *Client) setState(s int32) {
	c.state.Store(s)
}

func (c *Client) ready() bool {
	return c.state.Load() == StateJoined
}

// trySend queues payload for delivery without blocking. Sends to a
// connection that is not joined, or whose outbound buffer is full, are
// dropped, not queued, not retried.
func (c *Client) trySend(payload []byte) bool {
	if !c.ready() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close performs the terminal transition exactly once: best-effort close
// frame with the given code and reason, then the underlying connection is
// torn down immediately. There is no drain phase.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		if c.conn != nil {
			frame := websocket.FormatCloseMessage(code, reason)
			if err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					slog.Debug("failed to write close frame", "session", c.sessionID, "error", err)
				}
			}
			if err := c.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					slog.Debug("error closing connection", "session", c.sessionID, "error", err)
				}
			}
		}
		close(c.done)
		c.setState(StateClosed)
	})
}

// readPump pulls frames off the connection and hands them to the engine
// until the connection errors or the engine decides to close it. Cleanup of
// membership, admission, and presence runs exactly once from here.
func (c *Client) readPump() {
	defer func() {
		c.engine.disconnect(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Debug("error setting read deadline", "session", c.sessionID, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.engine.handleInbound(c, raw) {
			return
		}
	}
}

func (c *Client) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		slog.Info("closing connection over oversized message",
			"session", c.sessionID, "room", c.roomID, "addr", c.addr)
		c.close(websocket.CloseMessageTooBig, CloseReasonOversizedMessage)
		return
	}
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) && !isExpectedCloseError(err) {
		slog.Warn("unexpected read error", "session", c.sessionID, "addr", c.addr, "error", err)
		return
	}
	slog.Debug("client disconnected", "session", c.sessionID, "addr", c.addr)
}

// writePump owns all writes to the connection: queued payloads, keepalive
// pings, and the exit when the connection is closed out from under it.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					slog.Debug("write error", "session", c.sessionID, "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
