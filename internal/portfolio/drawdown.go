// Package portfolio sizes orders: per-strategy capital fractions gated by
// trailing drawdown, an optional rescale that redistributes capital freed by
// drawn-down strategies, and a system-wide drawdown gate that zeroes
// everything.
package portfolio

import (
	"midas/internal/store/model"
)

// drawdownGate is in percentage points of cumulative daily P&L.
const drawdownGate = 2.0

// Trades outside (-50, 100] are treated as data errors (splits, bad fills)
// and excluded from the daily mean.
const (
	trimLow  = -50.0
	trimHigh = 100.0
)

type DayPnL struct {
	Date string
	Mean float64
}

// DailyMeans collapses per-trade records into one mean P&L per day,
// outlier-trimmed. Days where every trade was trimmed are dropped. Input
// order (date ascending) is preserved.
func DailyMeans(recs []model.StrategyPnLModel) []DayPnL {
	var out []DayPnL
	idx := make(map[string]int)
	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, rec := range recs {
		if rec.PnLPercent <= trimLow || rec.PnLPercent > trimHigh {
			continue
		}
		if _, ok := idx[rec.Date]; !ok {
			idx[rec.Date] = len(out)
			out = append(out, DayPnL{Date: rec.Date})
		}
		sums[rec.Date] += rec.PnLPercent
		counts[rec.Date]++
	}
	for date, i := range idx {
		out[i].Mean = sums[date] / float64(counts[date])
	}
	return out
}

type DayDrawdown struct {
	Date       string
	Drawdown   float64
	InDrawdown bool
}

// Drawdowns computes, for each day with a full lookback window behind it, the
// running-max-minus-cumulative-sum drawdown of that window's daily P&L.
func Drawdowns(series []DayPnL, lookback int) []DayDrawdown {
	if lookback <= 0 || len(series) < lookback {
		return nil
	}
	out := make([]DayDrawdown, 0, len(series)-lookback+1)
	for end := lookback - 1; end < len(series); end++ {
		cum, runMax := 0.0, 0.0
		for i := end - lookback + 1; i <= end; i++ {
			cum += series[i].Mean
			if i == end-lookback+1 || cum > runMax {
				runMax = cum
			}
		}
		dd := runMax - cum
		out = append(out, DayDrawdown{
			Date:       series[end].Date,
			Drawdown:   dd,
			InDrawdown: dd >= drawdownGate,
		})
	}
	return out
}
