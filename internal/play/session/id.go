package session

import "github.com/google/uuid"

// NewID generates a scratch-directory-safe session id for callers that
// don't supply their own — a plain UUID is already a valid, sufficiently
// long opaque string and collision-free across concurrent callers without
// any coordination.
func NewID() string {
	return uuid.NewString()
}
