// Package mktcal provides NYSE trading-calendar helpers: session clock times,
// trading-day arithmetic and the exchange-local wall clock.
package mktcal

import (
	"sync"
	"time"
)

var (
	locOnce sync.Once
	eastern *time.Location
)

// Location returns the exchange time zone (US/Eastern).
func Location() *time.Location {
	locOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			// Fixed offset fallback; only hit on systems without tzdata.
			loc = time.FixedZone("EST", -5*60*60)
		}
		eastern = loc
	})
	return eastern
}

// Now returns the current exchange-local time.
func Now() time.Time {
	return time.Now().In(Location())
}

// Today returns today's date at midnight, exchange-local.
func Today() time.Time {
	return Midnight(Now())
}

// Midnight truncates t to its date in the exchange time zone.
func Midnight(t time.Time) time.Time {
	t = t.In(Location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location())
}

// At combines the date of d with a wall-clock hour and minute.
func At(d time.Time, hour, min int) time.Time {
	d = d.In(Location())
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, Location())
}

// MarketOpen returns 09:30 on d's date.
func MarketOpen(d time.Time) time.Time { return At(d, 9, 30) }

// MarketClose returns 16:00 on d's date.
func MarketClose(d time.Time) time.Time { return At(d, 16, 0) }

// IsTradingDay reports whether d falls on an NYSE session day.
func IsTradingDay(d time.Time) bool {
	d = Midnight(d)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !isHoliday(d)
}

// NextTradingDay returns the first trading day on or after d.
func NextTradingDay(d time.Time) time.Time {
	d = Midnight(d)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// AddTradingDays moves delta trading days from d (which need not itself be a
// trading day). Negative deltas move backward.
func AddTradingDays(d time.Time, delta int) time.Time {
	d = Midnight(d)
	step := 1
	if delta < 0 {
		step = -1
		delta = -delta
	}
	for delta > 0 {
		d = d.AddDate(0, 0, step)
		if IsTradingDay(d) {
			delta--
		}
	}
	if step > 0 {
		return NextTradingDay(d)
	}
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDays lists the trading days in [start, end].
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := Midnight(start); !d.After(Midnight(end)); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func isHoliday(d time.Time) bool {
	for _, h := range holidays(d.Year()) {
		if h.Equal(d) {
			return true
		}
	}
	return false
}

// holidays returns the observed NYSE full-closure holidays for a year.
func holidays(year int) []time.Time {
	hs := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, Location())),
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Presidents' Day
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		observed(time.Date(year, time.June, 19, 0, 0, 0, 0, Location())),
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, Location())),
		nthWeekday(year, time.September, time.Monday, 1),  // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, Location())),
	}
	return hs
}

// observed shifts a fixed-date holiday to Friday/Monday when it lands on a
// weekend, per NYSE observance rules.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, Location())
	count := 0
	for {
		if d.Weekday() == wd {
			count++
			if count == n {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, Location()).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday is two days before Easter Sunday (Gauss's computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, Location())
	return easter.AddDate(0, 0, -2)
}
