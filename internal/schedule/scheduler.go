package schedule

import (
	"time"

	"github.com/benbjohnson/clock"
)

// ClockScheduler runs delayed callbacks on a clock.Clock.
type ClockScheduler struct {
	clock clock.Clock
}

// New returns a scheduler on c, or on the wall clock when c is nil.
func New(c clock.Clock) *ClockScheduler {
	if c == nil {
		c = clock.New()
	}
	return &ClockScheduler{clock: c}
}

// AfterFunc implements ports.Scheduler.
func (s *ClockScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	timer := s.clock.AfterFunc(d, f)
	return timer.Stop
}
