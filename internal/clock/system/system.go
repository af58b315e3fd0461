// Package system provides the wall-clock implementation of booru.Clock.
package system

import "time"

// Clock implements booru.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time with its monotonic reading, so
// differences between two calls are immune to wall-clock steps.
func (Clock) Now() time.Time {
	return time.Now()
}
