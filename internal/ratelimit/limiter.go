package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter admits events at a steady rate with a burst allowance. It tracks a
// single theoretical arrival time (GCRA), so it needs no background refill.
type Limiter struct {
	mu sync.Mutex

	clock     Clock
	interval  time.Duration
	tolerance time.Duration
	tat       time.Time
}

// NewLimiter returns a limiter allowing perSecond events per second with
// bursts of up to burst events. perSecond <= 0 returns nil, which allows
// everything.
func NewLimiter(clock Clock, perSecond, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	if burst < 1 {
		burst = 1
	}
	interval := time.Second / time.Duration(perSecond)
	if interval <= 0 {
		interval = 1
	}
	return &Limiter{
		clock:     clock,
		interval:  interval,
		tolerance: time.Duration(burst-1) * interval,
		tat:       clock.Now(),
	}
}

// Allow reports whether one event may proceed now and, if so, records it.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	tat := l.tat
	if tat.Before(now) {
		tat = now
	}
	if tat.Sub(now) > l.tolerance {
		return false
	}
	l.tat = tat.Add(l.interval)
	return true
}
