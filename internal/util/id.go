package util

import "github.com/google/uuid"

// NewID returns a random identifier suitable for storage object names
// and feedback rows.
func NewID() string {
	return uuid.NewString()
}
