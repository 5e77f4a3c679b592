// Package relay validates externally supplied room identifiers against the
// configured allow-list pattern and length bounds.
package relay

import (
	"errors"
	"regexp"
)

// ErrInvalidRoomID indicates a room identifier that is empty, outside the
// configured length bounds, or contains disallowed characters.
var ErrInvalidRoomID = errors.New("invalid room id")

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateRoomID checks id against the allow-listed character pattern and the
// inclusive length bounds. No room state is touched on failure.
func ValidateRoomID(id string, minLen, maxLen int) error {
	if len(id) < minLen || len(id) > maxLen {
		return ErrInvalidRoomID
	}
	if !roomIDPattern.MatchString(id) {
		return ErrInvalidRoomID
	}
	return nil
}
