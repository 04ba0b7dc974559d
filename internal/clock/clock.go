package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for deterministic scheduling and tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a UTC wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}

// Module provides the system clock.
var Module = fx.Provide(NewSystemClock)
