// Package clock abstracts the wall clock so time-sensitive code, such
// as token expiry checks, stays deterministic under test.
package clock

import "time"

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock
type RealClock struct{}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}
