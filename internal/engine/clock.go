package engine

import "time"

// Clock — источник времени для Runtime.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock возвращает системные часы.
func SystemClock() Clock {
	return systemClock{}
}
