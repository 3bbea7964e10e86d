package market

import (
	"fmt"
	"time"

	"stockadvisor/internal/clock"
)

// Trading session states.
const (
	Open    = "open"
	Closed  = "closed"
	Unknown = "unknown"
)

// Hours is the regular trading session in the market timezone. A session
// runs from Open (inclusive) to Close (exclusive), Monday to Friday, except
// on Holidays (YYYY-MM-DD).
type Hours struct {
	Open     time.Duration
	Close    time.Duration
	Holidays map[string]bool
}

// DefaultHours is the NSE/BSE equity session, 09:15 to 15:30 IST.
func DefaultHours() Hours {
	return Hours{Open: 9*time.Hour + 15*time.Minute, Close: 15*time.Hour + 30*time.Minute}
}

// HolidaySet builds a holiday lookup from YYYY-MM-DD strings, skipping
// malformed entries.
func HolidaySet(days []string) map[string]bool {
	out := make(map[string]bool, len(days))
	for _, d := range days {
		if _, err := time.Parse(time.DateOnly, d); err == nil {
			out[d] = true
		}
	}
	return out
}

// MarketStatus is the session state at a point in time.
type MarketStatus struct {
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	NextOpenOrClose time.Time `json:"next_open_or_close,omitzero"`
}

func (h Hours) tradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !h.Holidays[t.Format(time.DateOnly)]
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// nextOpen returns the session open of the first trading day after day.
func (h Hours) nextOpen(day time.Time) time.Time {
	d := midnight(day)
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, 1)
		if h.tradingDay(d) {
			return d.Add(h.Open)
		}
	}
	return time.Time{}
}

// Status reports the session state at now. It does no I/O; a zero now
// yields Unknown.
func Status(now time.Time, h Hours) MarketStatus {
	if now.IsZero() {
		return MarketStatus{Status: Unknown, Message: "Market status unavailable"}
	}
	if h.Close <= h.Open {
		h.Open, h.Close = DefaultHours().Open, DefaultHours().Close
	}

	t := now.In(clock.Market())
	day := midnight(t)
	openAt, closeAt := day.Add(h.Open), day.Add(h.Close)

	if !h.tradingDay(t) {
		reason := "weekend"
		if h.Holidays[t.Format(time.DateOnly)] {
			reason = "holiday"
		}
		next := h.nextOpen(t)
		return MarketStatus{
			Status:          Closed,
			Message:         fmt.Sprintf("Market closed (%s). Opens %s", reason, next.Format("Mon 02 Jan 15:04 MST")),
			NextOpenOrClose: next,
		}
	}

	switch {
	case t.Before(openAt):
		return MarketStatus{
			Status:          Closed,
			Message:         "Market opens at " + openAt.Format("15:04 MST"),
			NextOpenOrClose: openAt,
		}
	case t.Before(closeAt):
		return MarketStatus{
			Status:          Open,
			Message:         "Market open until " + closeAt.Format("15:04 MST"),
			NextOpenOrClose: closeAt,
		}
	default:
		next := h.nextOpen(t)
		return MarketStatus{
			Status:          Closed,
			Message:         "Market closed for the day. Opens " + next.Format("Mon 02 Jan 15:04 MST"),
			NextOpenOrClose: next,
		}
	}
}
