// Package ratelimit tracks per-user request and token usage across
// minute, hour and day windows and decides admission.
//
// Windows are fixed buckets keyed by floor(now/windowSize). This is an
// approximation of a true sliding window: up to twice the configured
// rate can be admitted across a bucket boundary. Callers depend on the
// exact boundary semantics, so this is deliberate.
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the per-window ceilings.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerHour     int
	TokensPerDay      int
}

// DefaultConfig returns the stock ceilings.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 20,
		RequestsPerHour:   200,
		RequestsPerDay:    1000,
		TokensPerMinute:   40_000,
		TokensPerHour:     200_000,
		TokensPerDay:      2_000_000,
	}
}

// Status is the outcome of an admission check.
type Status struct {
	Limited         bool
	NextAvailableIn time.Duration
	Remaining       *RemainingQuota
}

// RemainingQuota snapshots remaining request admission per window.
type RemainingQuota struct {
	RequestsThisMinute int `json:"requestsThisMinute"`
	RequestsThisHour   int `json:"requestsThisHour"`
	RequestsThisDay    int `json:"requestsThisDay"`
}

// UsageSnapshot reports accumulated usage in the current buckets.
type UsageSnapshot struct {
	RequestsThisMinute int
	RequestsThisHour   int
	RequestsThisDay    int
	TokensThisMinute   int
	TokensThisHour     int
	TokensThisDay      int
}

const (
	minuteMs = int64(60_000)
	hourMs   = int64(3_600_000)
	dayMs    = int64(86_400_000)

	// Buckets older than this many windows are pruned by the sweep.
	minuteRetention = int64(10)
	hourRetention   = int64(48)
	dayRetention    = int64(90)

	sweepInterval = 5 * time.Minute
	userExpiry    = 24 * time.Hour
)

// counters maps discretized bucket keys to accumulated integers, one
// pair of maps per window granularity.
type counters struct {
	requests map[int64]int
	tokens   map[int64]int
}

func newCounters() counters {
	return counters{
		requests: make(map[int64]int),
		tokens:   make(map[int64]int),
	}
}

type userState struct {
	minute   counters
	hour     counters
	day      counters
	lastSeen time.Time
}

// Limiter owns the per-user counters exclusively; nothing else mutates
// them. It never returns errors: absence of prior state is treated as
// zero usage.
type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	users map[string]*userState
	now   func() time.Time
	done  chan struct{}
}

// New creates a limiter with the given ceilings and starts the
// background sweep. Call Close to stop it.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:   cfg,
		users: make(map[string]*userState),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	close(l.done)
}

// CheckLimit computes the admission decision for a user. Windows are
// checked in fixed order (minute, hour, day); the first window at or
// over its request ceiling denies admission. Token ceilings are
// tracked but do not gate admission.
func (l *Limiter) CheckLimit(user string) Status {
	t := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.users[user]

	checks := []struct {
		counters counters
		windowMs int64
		ceiling  int
	}{
		{l.window(st, minuteMs), minuteMs, l.cfg.RequestsPerMinute},
		{l.window(st, hourMs), hourMs, l.cfg.RequestsPerHour},
		{l.window(st, dayMs), dayMs, l.cfg.RequestsPerDay},
	}

	for _, c := range checks {
		used := 0
		if c.counters.requests != nil {
			used = c.counters.requests[t/c.windowMs]
		}
		if used >= c.ceiling {
			return Status{
				Limited:         true,
				NextAvailableIn: time.Duration(c.windowMs-t%c.windowMs) * time.Millisecond,
			}
		}
	}

	return Status{
		Remaining: &RemainingQuota{
			RequestsThisMinute: l.cfg.RequestsPerMinute - usedAt(checks[0].counters.requests, t/minuteMs),
			RequestsThisHour:   l.cfg.RequestsPerHour - usedAt(checks[1].counters.requests, t/hourMs),
			RequestsThisDay:    l.cfg.RequestsPerDay - usedAt(checks[2].counters.requests, t/dayMs),
		},
	}
}

// RecordRequest unconditionally counts one request in all three
// windows and, when tokens > 0, adds tokens to all three token
// windows. Call exactly once per completed call; streaming calls
// record once after the stream fully ends with the final cumulative
// token count, or 0 when unknown.
func (l *Limiter) RecordRequest(user string, tokens int) {
	now := l.now()
	t := now.UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.users[user]
	if st == nil {
		st = &userState{
			minute: newCounters(),
			hour:   newCounters(),
			day:    newCounters(),
		}
		l.users[user] = st
	}
	st.lastSeen = now

	st.minute.requests[t/minuteMs]++
	st.hour.requests[t/hourMs]++
	st.day.requests[t/dayMs]++

	if tokens > 0 {
		st.minute.tokens[t/minuteMs] += tokens
		st.hour.tokens[t/hourMs] += tokens
		st.day.tokens[t/dayMs] += tokens
	}
}

// RemainingUsage snapshots the user's accumulated usage in the current
// buckets of all six counters.
func (l *Limiter) RemainingUsage(user string) UsageSnapshot {
	t := l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.users[user]
	if st == nil {
		return UsageSnapshot{}
	}
	return UsageSnapshot{
		RequestsThisMinute: st.minute.requests[t/minuteMs],
		RequestsThisHour:   st.hour.requests[t/hourMs],
		RequestsThisDay:    st.day.requests[t/dayMs],
		TokensThisMinute:   st.minute.tokens[t/minuteMs],
		TokensThisHour:     st.hour.tokens[t/hourMs],
		TokensThisDay:      st.day.tokens[t/dayMs],
	}
}

// UserCount reports how many users currently have tracked state.
func (l *Limiter) UserCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

func (l *Limiter) window(st *userState, windowMs int64) counters {
	if st == nil {
		return counters{}
	}
	switch windowMs {
	case minuteMs:
		return st.minute
	case hourMs:
		return st.hour
	default:
		return st.day
	}
}

func usedAt(m map[int64]int, bucket int64) int {
	if m == nil {
		return 0
	}
	return m[bucket]
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep prunes buckets past their retention horizon and drops users
// inactive for a full day. Current-window buckets are always inside
// the horizon, so active users are never affected.
func (l *Limiter) sweep() {
	now := l.now()
	t := now.UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	for user, st := range l.users {
		if now.Sub(st.lastSeen) >= userExpiry {
			delete(l.users, user)
			continue
		}
		prune(st.minute, t/minuteMs, minuteRetention)
		prune(st.hour, t/hourMs, hourRetention)
		prune(st.day, t/dayMs, dayRetention)
	}
}

func prune(c counters, currentBucket, retention int64) {
	for bucket := range c.requests {
		if currentBucket-bucket > retention {
			delete(c.requests, bucket)
		}
	}
	for bucket := range c.tokens {
		if currentBucket-bucket > retention {
			delete(c.tokens, bucket)
		}
	}
}
