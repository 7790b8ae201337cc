//go:build !unix

package gate

import "time"

// DefaultPollInterval is used when NewFileLocked gets a non-positive interval.
const DefaultPollInterval = 2 * time.Millisecond

// NewFileLocked is unavailable without flock(2).
func NewFileLocked(lockPath string, capacity int, poll time.Duration) (*Set, error) {
	return nil, ErrUnsupported
}
