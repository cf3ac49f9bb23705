package util

import "time"

// Clock abstracts wall-clock access so order and event timestamps are
// injectable in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
