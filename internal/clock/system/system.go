// Package system provides the wall clock used for batch and probe timing.
package system

import "time"

// Clock implements probe.Clock. Readings keep their monotonic component, so
// durations between two readings are unaffected by wall clock steps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}
