package poller

import "time"

// Timer is a scheduled task handle. Stopping it turns the pending callback into a no-op.
type Timer interface {
	Stop() bool
}

// Clock schedules the poller callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) Now() time.Time {
	return time.Now()
}
