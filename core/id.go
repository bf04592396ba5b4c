package core

import "github.com/google/uuid"

// NewID returns an opaque identifier for sessions and stored media. Collision
// resistance is the requirement here, not secrecy.
func NewID() string {
	return uuid.NewString()
}
