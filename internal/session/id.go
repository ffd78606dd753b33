package session

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 32 character hex identifier. The first 12
// characters select the backend shard.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
