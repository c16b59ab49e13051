package nbexec

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a unique request identifier (RFC 4122 UUIDv4).
// The HTTP routes match this shape: five hex groups separated by hyphens.
func NewID() string {
	return uuid.NewString()
}

// NowISO returns the current UTC time as an ISO-8601 timestamp with
// second precision and no zone suffix. Timestamps produced this way
// order lexicographically.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05")
}
