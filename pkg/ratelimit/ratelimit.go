package ratelimit

import (
	"sync"
	"time"
)

// Limiter throttles repeat sends to the same (recipient, channel) pair.
// A denied send is a skip, not a failure: the caller leaves the
// notification eligible for its next scheduled attempt.
type Limiter struct {
	mu        sync.Mutex
	lastSent  map[key]time.Time
	intervals map[string]time.Duration
	fallback  time.Duration
}

type key struct {
	recipient string
	channel   string
}

// New creates a limiter. intervals maps channel name to its minimum
// spacing; channels without an entry use fallback.
func New(intervals map[string]time.Duration, fallback time.Duration) *Limiter {
	if fallback <= 0 {
		fallback = 5 * time.Minute
	}
	return &Limiter{
		lastSent:  make(map[key]time.Time),
		intervals: intervals,
		fallback:  fallback,
	}
}

func (l *Limiter) interval(channel string) time.Duration {
	if d, ok := l.intervals[channel]; ok && d > 0 {
		return d
	}
	return l.fallback
}

// Allow reports whether a send to the pair may proceed at now. It does
// not record the send; call Record at the moment of actual delivery so a
// failed attempt does not throttle the next one.
func (l *Limiter) Allow(recipient, channel string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.lastSent[key{recipient, channel}]
	if !ok {
		return true
	}
	return now.Sub(last) >= l.interval(channel)
}

// Record stamps a successful send for the pair.
func (l *Limiter) Record(recipient, channel string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSent[key{recipient, channel}] = now
}

// NextAllowed returns when the pair becomes eligible again. The zero
// time means it is eligible now.
func (l *Limiter) NextAllowed(recipient, channel string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.lastSent[key{recipient, channel}]
	if !ok {
		return time.Time{}
	}
	return last.Add(l.interval(channel))
}

// Prune drops entries older than every channel interval, keeping the
// map from growing with one entry per recipient forever.
func (l *Limiter) Prune(now time.Time) {
	max := l.fallback
	for _, d := range l.intervals {
		if d > max {
			max = d
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, last := range l.lastSent {
		if now.Sub(last) > max {
			delete(l.lastSent, k)
		}
	}
}

// Len returns the number of tracked pairs.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastSent)
}
