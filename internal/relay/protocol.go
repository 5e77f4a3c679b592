// Package relay defines the wire envelope and payload types exchanged with
// clients, plus the close reasons used when a connection is rejected.
package relay

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

// Message types carried in the envelope's type field. Clients send
// CODE_CHANGE; the server sends the rest. Unknown types are accepted and
// ignored so older servers tolerate newer clients.
const (
	MessageSyncCode   = "SYNC_CODE"
	MessagePresence   = "PRESENCE"
	MessageError      = "ERROR"
	MessageCodeChange = "CODE_CHANGE"
)

// Close reasons sent alongside the WebSocket close code when the server
// terminates a connection.
const (
	CloseReasonServerCapacity   = "server at capacity"
	CloseReasonInvalidRoomID    = "invalid room id"
	CloseReasonRoomCapacity     = "room at capacity"
	CloseReasonRateLimited      = "rate limit exceeded"
	CloseReasonOversizedMessage = "message too large"
	CloseReasonInternalError    = "internal server error"
	CloseReasonShutdown         = "server restarting"
)

// ErrMalformedEnvelope is returned when an inbound frame does not parse as
// the two-field {type, payload} envelope.
var ErrMalformedEnvelope = errors.New("malformed message envelope")

// Envelope is the JSON frame exchanged in both directions. Payload is kept
// raw so a validated client envelope can be re-broadcast verbatim.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CodeChangePayload is the payload of a CODE_CHANGE message. Code is a
// pointer so a missing or non-string field can be told apart from an empty
// string.
type CodeChangePayload struct {
	Code *string `json:"code"`
}

// SyncCodePayload carries the room buffer replayed to a newly joined member.
type SyncCodePayload struct {
	Code string `json:"code"`
}

// PresencePayload carries the room's current member count.
type PresencePayload struct {
	Count int `json:"count"`
}

// ErrorPayload carries a typed error reply, sent only for oversized code
// updates.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeEnvelope parses raw bytes into an Envelope. The type field must be a
// non-empty string and the payload must be a JSON object.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if env.Type == "" || !isJSONObject(env.Payload) {
		return nil, ErrMalformedEnvelope
	}
	return &env, nil
}

// EncodeMessage marshals a server-originated envelope.
func EncodeMessage(msgType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: body})
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
