package clock

import "time"

// Clock is the single source of the current instant for date math.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// New returns the production clock.
func New() Real {
	return Real{}
}

// Now implements Clock.
func (Real) Now() time.Time {
	return time.Now()
}

// Fixed always reports the same instant. Intended for tests.
type Fixed struct {
	Instant time.Time
}

// NewFixed builds a Fixed clock pinned to t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{Instant: t}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	return f.Instant
}

// Set moves the fixed clock to t.
func (f *Fixed) Set(t time.Time) {
	f.Instant = t
}
