// Package relay implements the room relay engine: admission control, room
// membership with broadcast fan-out, per-peer rate limiting, and the JSON
// message protocol that ties them together.
//
// A transport handler hands the Engine a freshly upgraded WebSocket
// connection. The Engine runs the admission and room-id checks, joins the
// connection to its room, replays the room's current buffer, and then relays
// validated CODE_CHANGE messages to every other member until the connection
// goes away.
package relay
