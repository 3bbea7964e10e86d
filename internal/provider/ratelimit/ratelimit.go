package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"stockadvisor/internal/clock"
)

var (
	// ErrMinuteLimit is returned by Acquire when the current one-minute
	// bucket is full. Callers skip the source; nothing waits.
	ErrMinuteLimit = errors.New("ratelimit: per-minute limit reached")
	// ErrDailyQuota is returned by Acquire once the day's ceiling is reached.
	ErrDailyQuota = errors.New("ratelimit: daily quota exhausted")
)

// retention bounds how many minute buckets are kept per source.
const retention = 5

// Limits is the admission policy for one source. Zero values disable the
// corresponding check.
type Limits struct {
	MaxPerMinute int
	MaxPerDay    int
	MinInterval  time.Duration
}

// Usage is a point-in-time view of a source's counters.
type Usage struct {
	Minute      int
	Day         int
	LastRequest time.Time
}

type sourceState struct {
	mu       sync.Mutex
	minutes  map[int64]int // key: unix minute
	day      string
	dayCount int
	last     time.Time

	spacing  *rate.Limiter
	interval time.Duration
}

// Limiter tracks per-minute and per-day request counts for every source and
// enforces minimum spacing between requests. Each source has its own lock so
// callers hitting different sources never contend.
type Limiter struct {
	now clock.Func

	mu     sync.RWMutex
	states map[string]*sourceState
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used for bucketing.
func WithClock(now clock.Func) Option {
	return func(l *Limiter) { l.now = clock.OrNow(now) }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{now: time.Now, states: make(map[string]*sourceState)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) state(source string) *sourceState {
	l.mu.RLock()
	st, ok := l.states[source]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.states[source]; !ok {
		st = &sourceState{minutes: make(map[int64]int, retention)}
		l.states[source] = st
	}
	return st
}

// WithinLimit reports whether the current minute bucket for source holds
// fewer than maxPerMinute requests.
func (l *Limiter) WithinLimit(source string, maxPerMinute int) bool {
	if maxPerMinute <= 0 {
		return true
	}
	st := l.state(source)
	now := l.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.minutes[minuteOf(now)] < maxPerMinute
}

// WithinDailyQuota reports whether source has made fewer than maxPerDay
// requests on the current market calendar day.
func (l *Limiter) WithinDailyQuota(source string, maxPerDay int) bool {
	if maxPerDay <= 0 {
		return true
	}
	st := l.state(source)
	now := l.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dayCountAt(now) < maxPerDay
}

// RecordUsage counts one request against source.
func (l *Limiter) RecordUsage(source string) {
	st := l.state(source)
	now := l.now()
	st.mu.Lock()
	st.record(now)
	st.mu.Unlock()
}

// Throttle blocks until minInterval has elapsed since the previous admitted
// request to source, or ctx is done. Slots are reserved, so concurrent
// callers queue up one interval apart.
func (l *Limiter) Throttle(ctx context.Context, source string, minInterval time.Duration) error {
	if minInterval <= 0 {
		return nil
	}
	st := l.state(source)
	st.mu.Lock()
	if st.spacing == nil {
		st.spacing = rate.NewLimiter(rate.Every(minInterval), 1)
		st.interval = minInterval
	} else if st.interval != minInterval {
		st.spacing.SetLimit(rate.Every(minInterval))
		st.interval = minInterval
	}
	sp := st.spacing
	st.mu.Unlock()
	return sp.Wait(ctx)
}

// Acquire admits one request to source under lim. The minute and day checks
// and the usage increment happen under the source lock, so two callers can
// never both take the last slot. A refused request returns immediately with
// ErrDailyQuota or ErrMinuteLimit; an admitted one then waits out the
// minimum spacing.
func (l *Limiter) Acquire(ctx context.Context, source string, lim Limits) error {
	st := l.state(source)
	now := l.now()

	st.mu.Lock()
	if lim.MaxPerDay > 0 && st.dayCountAt(now) >= lim.MaxPerDay {
		st.mu.Unlock()
		return ErrDailyQuota
	}
	if lim.MaxPerMinute > 0 && st.minutes[minuteOf(now)] >= lim.MaxPerMinute {
		st.mu.Unlock()
		return ErrMinuteLimit
	}
	st.record(now)
	st.mu.Unlock()

	return l.Throttle(ctx, source, lim.MinInterval)
}

// Usage returns the counters for source.
func (l *Limiter) Usage(source string) Usage {
	st := l.state(source)
	now := l.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	return Usage{
		Minute:      st.minutes[minuteOf(now)],
		Day:         st.dayCountAt(now),
		LastRequest: st.last,
	}
}

func (st *sourceState) record(now time.Time) {
	cur := minuteOf(now)
	st.minutes[cur]++
	for m := range st.minutes {
		if m <= cur-retention {
			delete(st.minutes, m)
		}
	}
	day := clock.Day(now)
	if st.day != day {
		st.day = day
		st.dayCount = 0
	}
	st.dayCount++
	st.last = now
}

func (st *sourceState) dayCountAt(now time.Time) int {
	if st.day != clock.Day(now) {
		return 0
	}
	return st.dayCount
}

func minuteOf(t time.Time) int64 { return t.Unix() / 60 }
