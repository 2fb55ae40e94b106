// Package market resolves trading sessions and picks the candle used
// for evaluation.
package market

import (
	"time"
	_ "time/tzdata" // markets have fixed zones; embed so lookups never fail

	"github.com/mkkang/swingbot/internal/calendar"
)

// Session phases.
const (
	StatusClosed     = "CLOSED"
	StatusPreOpen    = "PRE_OPEN"
	StatusIntraday   = "INTRADAY"
	StatusAfterClose = "AFTER_CLOSE"
)

// Session describes the exchange state at a point in time, expressed in
// the exchange's local zone.
type Session struct {
	Market    string // "KR" or "US"
	Status    string
	Date      string // local calendar date, YYYY-MM-DD
	IsHoliday bool
}

type marketHours struct {
	zone      string
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

var hoursByMarket = map[string]marketHours{
	"KR": {zone: "Asia/Seoul", openHour: 9, openMin: 0, closeHour: 15, closeMin: 30},
	"US": {zone: "America/New_York", openHour: 9, openMin: 30, closeHour: 16, closeMin: 0},
}

// Resolve computes the session for a market at the given instant.
// Unknown markets resolve as KR.
func Resolve(market string, now time.Time, holidays *calendar.Store) Session {
	hours, ok := hoursByMarket[market]
	if !ok {
		market = "KR"
		hours = hoursByMarket["KR"]
	}

	loc, err := time.LoadLocation(hours.zone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	date := local.Format("2006-01-02")

	session := Session{Market: market, Date: date}

	if holidays != nil && holidays.IsHoliday(market, date) {
		session.IsHoliday = true
		session.Status = StatusClosed
		return session
	}

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		session.Status = StatusClosed
		return session
	}

	minutes := local.Hour()*60 + local.Minute()
	open := hours.openHour*60 + hours.openMin
	close := hours.closeHour*60 + hours.closeMin

	switch {
	case minutes < open:
		session.Status = StatusPreOpen
	case minutes < close:
		session.Status = StatusIntraday
	default:
		session.Status = StatusAfterClose
	}
	return session
}

// PreferredDayOffset returns the rank-query day offset implied by the
// session: 0 (today's data) only once the market has closed on a
// trading day, otherwise 1 (previous session).
func (s Session) PreferredDayOffset() int {
	if s.Status == StatusAfterClose && !s.IsHoliday {
		return 0
	}
	return 1
}
