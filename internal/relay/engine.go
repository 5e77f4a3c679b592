// Package relay drives the connection lifecycle state machine and message
// dispatch through the Engine type, which composes the admission counter,
// the rate limiter, and the room registry.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Engine binds admission control, room membership, and rate limiting to the
// inbound connection stream. One Engine owns one instance of each component;
// the transport layer hands it upgraded connections and the Engine does the
// rest.
type Engine struct {
	cfg       *Config
	registry  *Registry
	limiter   *RateLimiter
	admission *Admission
	origins   *originPolicy
	upgrader  websocket.Upgrader
	log       *slog.Logger

	mu    sync.Mutex
	conns map[*Client]struct{}
	wg    sync.WaitGroup

	shuttingDown atomic.Bool
}

// NewEngine creates an engine from a validated configuration. A nil logger
// falls back to the process default.
func NewEngine(cfg *Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	origins := newOriginPolicy(cfg.AllowedOrigins)
	return &Engine{
		cfg:       cfg,
		registry:  NewRegistry(),
		limiter:   NewRateLimiter(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window),
		admission: NewAdmission(cfg.MaxConnsTotal),
		origins:   origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log:   logger,
		conns: make(map[*Client]struct{}),
	}
}

// Registry exposes the engine's room registry for observability handlers.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// HandleConnection runs the CONNECTING phase for a freshly upgraded
// connection: admission, room-id validation, join, initial sync, presence
// update. Any rejection after admission was granted releases the slot before
// closing, so a refused connection never leaks capacity or membership.
func (e *Engine) HandleConnection(conn *websocket.Conn, roomID, remoteAddr string) {
	c := newClient(conn, e, roomID, remoteAddr)

	if e.shuttingDown.Load() {
		c.close(websocket.CloseServiceRestart, CloseReasonShutdown)
		return
	}

	if !e.admission.TryAcquire() {
		e.log.Info("connection refused: server at capacity", "addr", remoteAddr)
		c.close(websocket.ClosePolicyViolation, CloseReasonServerCapacity)
		return
	}

	if err := ValidateRoomID(roomID, e.cfg.RoomIDMinLength, e.cfg.RoomIDMaxLength); err != nil {
		e.admission.Release()
		e.log.Info("connection refused: invalid room id", "room", roomID, "addr", remoteAddr)
		c.close(websocket.ClosePolicyViolation, CloseReasonInvalidRoomID)
		return
	}

	buffer, presence, err := e.registry.Join(roomID, c, e.cfg.MaxConnsPerRoom)
	if err != nil {
		e.admission.Release()
		if errors.Is(err, ErrRoomFull) {
			e.log.Info("connection refused: room at capacity", "room", roomID, "addr", remoteAddr)
			c.close(websocket.ClosePolicyViolation, CloseReasonRoomCapacity)
			return
		}
		e.log.Error("join failed", "room", roomID, "addr", remoteAddr, "error", err)
		c.close(websocket.CloseInternalServerErr, CloseReasonInternalError)
		return
	}

	// Queue the sync before the pumps start and before the presence
	// broadcast so it is the first frame the new member sees.
	c.setState(StateJoined)
	e.sendTo(c, MessageSyncCode, SyncCodePayload{Code: buffer})

	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()

	conn.SetReadLimit(e.cfg.MaxMessageSize)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		c.writePump()
	}()
	go func() {
		defer e.wg.Done()
		c.readPump()
	}()

	e.broadcastPresence(roomID, presence)

	e.log.Info("client joined", "session", c.sessionID, "room", roomID, "addr", remoteAddr, "presence", presence)
}

// handleInbound processes one message from a joined connection. It returns
// false when the connection must close, in which case the close frame has
// already been written with the appropriate code.
func (e *Engine) handleInbound(c *Client, raw []byte) bool {
	// Bounded before any parsing so attacker-controlled input cannot buy
	// parse time. The transport read limit enforces the same cap.
	if int64(len(raw)) > e.cfg.MaxMessageSize {
		e.log.Info("closing connection over oversized message", "session", c.sessionID, "room", c.roomID)
		c.close(websocket.CloseMessageTooBig, CloseReasonOversizedMessage)
		return false
	}

	if !e.limiter.Allow(c.limiterID) {
		e.log.Info("closing connection over rate limit", "session", c.sessionID, "room", c.roomID)
		c.close(websocket.ClosePolicyViolation, CloseReasonRateLimited)
		return false
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		// Malformed envelopes are dropped, not punished; protocol skew is
		// not an abuse signal.
		e.log.Debug("dropping malformed message", "session", c.sessionID, "room", c.roomID)
		return true
	}

	switch env.Type {
	case MessageCodeChange:
		e.handleCodeChange(c, env, raw)
	default:
		// Unrecognized types are valid envelopes with no action.
	}
	return true
}

// handleCodeChange applies the only mutating message type: replace the room
// buffer, then re-broadcast the raw validated envelope verbatim to every
// other member.
func (e *Engine) handleCodeChange(c *Client, env *Envelope, raw []byte) {
	var payload CodeChangePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Code == nil {
		e.log.Debug("dropping code change without string code", "session", c.sessionID, "room", c.roomID)
		return
	}

	if len(*payload.Code) > e.cfg.MaxCodeSize {
		// Unlike generic malformed messages, an oversized update gets a
		// typed reply so the sender's UI can react; the connection stays
		// open and the buffer is untouched.
		e.sendTo(c, MessageError, ErrorPayload{Message: CloseReasonOversizedMessage})
		e.log.Info("rejected oversized code update",
			"session", c.sessionID, "room", c.roomID, "size", len(*payload.Code))
		return
	}

	e.registry.SetBuffer(c.roomID, *payload.Code)
	e.registry.Broadcast(c.roomID, c, raw)
}

// disconnect unwinds a joined connection exactly once: membership removed,
// admission released, presence update sent to whoever remains. Nothing is
// sent to the departing connection itself.
func (e *Engine) disconnect(c *Client) {
	e.mu.Lock()
	_, tracked := e.conns[c]
	delete(e.conns, c)
	e.mu.Unlock()

	if !tracked {
		return
	}

	remaining, removed := e.registry.Leave(c.roomID, c)
	e.admission.Release()

	if removed && remaining > 0 {
		e.broadcastPresence(c.roomID, remaining)
	}

	e.log.Info("client left", "session", c.sessionID, "room", c.roomID, "presence", remaining)
}

func (e *Engine) sendTo(c *Client, msgType string, payload any) {
	message, err := EncodeMessage(msgType, payload)
	if err != nil {
		e.log.Error("failed to encode message", "type", msgType, "error", err)
		return
	}
	if !c.trySend(message) {
		e.log.Warn("dropped direct send", "type", msgType, "session", c.sessionID)
	}
}

func (e *Engine) broadcastPresence(roomID string, count int) {
	message, err := EncodeMessage(MessagePresence, PresencePayload{Count: count})
	if err != nil {
		e.log.Error("failed to encode presence", "error", err)
		return
	}
	e.registry.Broadcast(roomID, nil, message)
}

// Shutdown closes every live connection with the shutdown close code and
// waits up to grace for the pump goroutines to finish. If the grace period
// elapses, the remaining state is abandoned rather than cleaned up.
func (e *Engine) Shutdown(grace time.Duration) error {
	e.shuttingDown.Store(true)
	e.limiter.Stop()

	e.mu.Lock()
	clients := make([]*Client, 0, len(e.conns))
	for c := range e.conns {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	e.log.Info("closing client connections", "count", len(clients))
	for _, c := range clients {
		c.close(websocket.CloseServiceRestart, CloseReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("engine shutdown completed")
		return nil
	case <-time.After(grace):
		e.log.Warn("engine shutdown grace period elapsed, abandoning remaining connections")
		return context.DeadlineExceeded
	}
}
