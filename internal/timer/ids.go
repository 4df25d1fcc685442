package timer

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh timer, mark or log identifier.
func NewID() string {
	return uuid.NewString()
}

// NewShareToken returns a compact token for share links. Dashes are stripped
// so the token survives copy/paste and URL handling untouched.
func NewShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DeriveUserID produces a stable anonymous user id from a session id when the
// client did not identify itself.
func DeriveUserID(sessionID string) string {
	if len(sessionID) >= 8 {
		return "user-" + sessionID[:8]
	}
	return "user-" + sessionID
}
