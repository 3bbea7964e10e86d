// Package clock holds the market timezone and the injectable time source
// shared by the limiter, the fallback table and the market status check.
package clock

import (
	"sync"
	"time"
	_ "time/tzdata"
)

// Func returns the current time. Components default to time.Now.
type Func func() time.Time

const marketZone = "Asia/Kolkata"

var (
	locOnce sync.Once
	loc     *time.Location
)

// Market returns the exchange timezone (IST).
func Market() *time.Location {
	locOnce.Do(func() {
		l, err := time.LoadLocation(marketZone)
		if err != nil {
			l = time.FixedZone("IST", 5*3600+30*60)
		}
		loc = l
	})
	return loc
}

// Day formats t as the calendar day in the market timezone.
func Day(t time.Time) string {
	return t.In(Market()).Format(time.DateOnly)
}

// OrNow returns f, or time.Now when f is nil.
func OrNow(f Func) Func {
	if f == nil {
		return time.Now
	}
	return f
}
