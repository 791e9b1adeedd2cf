package clock

import "time"

// Clock is a pluggable time source so window math and cache staleness can be
// tested without sleeping.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
