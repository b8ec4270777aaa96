package schedule

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestClockSchedulerFiresAfterDelay(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	s := New(mock)
	fired := make(chan struct{}, 1)

	s.AfterFunc(500*time.Millisecond, func() { fired <- struct{}{} })

	mock.Add(499 * time.Millisecond)
	select {
	case <-fired:
		t.Fatalf("callback fired before its delay")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("callback did not fire")
	}
}

func TestClockSchedulerCancel(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	s := New(mock)
	fired := make(chan struct{}, 1)

	cancel := s.AfterFunc(500*time.Millisecond, func() { fired <- struct{}{} })
	if !cancel() {
		t.Fatalf("expected cancel to stop a pending callback")
	}

	mock.Add(time.Second)
	select {
	case <-fired:
		t.Fatalf("cancelled callback fired")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewDefaultsToWallClock(t *testing.T) {
	t.Parallel()

	s := New(nil)
	fired := make(chan struct{}, 1)
	s.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("wall clock callback did not fire")
	}
}
