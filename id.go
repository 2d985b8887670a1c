package haven

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string. Ids sort lexicographically by creation
// time, which keeps primary-key indexes append-mostly.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix is the clock every timestamp field uses: Unix seconds.
// RFC 3339 formatting happens only at the HTTP boundary.
func NowUnix() int64 {
	return time.Now().Unix()
}
