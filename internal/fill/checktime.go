package fill

import (
	"time"

	"midas/internal/mktcal"
	"midas/internal/order"
)

// CheckTime returns when a transmitted order's fill should next be polled.
// Market orders are given two minutes, but never before 09:32 (the venue
// needs the open auction to settle) and never inside the closed session.
// Market-on-close fills only exist after the close, so they check at 16:02.
// Limit orders poll every minute so stale prices get re-priced quickly.
func CheckTime(k order.Kind) time.Time {
	now := mktcal.Now()
	today := mktcal.Today()
	switch k {
	case order.MarketOnClose:
		return mktcal.At(today, 16, 2)
	case order.Limit:
		return now.Add(time.Minute)
	default:
		t := now.Add(2 * time.Minute)
		if open := mktcal.At(today, 9, 32); open.After(t) {
			t = open
		}
		if t.Before(mktcal.MarketClose(today)) {
			return t
		}
		next := mktcal.NextTradingDay(today.AddDate(0, 0, 1))
		return mktcal.At(next, 9, 32)
	}
}
