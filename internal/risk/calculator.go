package risk

import (
	"math"
	"sort"
	"time"
)

// ProfitFactorCap is reported as the profit factor when the window has no
// losing trades (the ratio is undefined) and is also the upper clamp for
// windows whose gross loss is tiny. A fixed finite value keeps the column a
// plain NUMERIC and the JSON encodable.
const ProfitFactorCap = 9999.0

// layeringPriceScale buckets open prices to 4 decimal places when grouping
// for layering detection.
const layeringPriceScale = 1e4

// Calculate reduces a trade window to its statistics.
//
// Precondition: window is non-empty and ordered by close time, most recent
// first. Stores guarantee this ordering; the calculator does not re-sort.
func Calculate(window []*Trade, th Thresholds) Stats {
	if len(window) == 0 {
		panic("risk: Calculate called with empty window")
	}

	total := len(window)
	var wins, withSL, withTP, hft int
	var grossProfit, grossLoss float64

	for _, t := range window {
		if t.Profit > 0 {
			wins++
			grossProfit += t.Profit
		} else if t.Profit < 0 {
			grossLoss += -t.Profit
		}
		if t.StopLoss != nil {
			withSL++
		}
		if t.TakeProfit != nil {
			withTP++
		}
		if t.Duration() <= th.HFTDuration {
			hft++
		}
	}

	profitFactor := ProfitFactorCap
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
		if profitFactor > ProfitFactorCap {
			profitFactor = ProfitFactorCap
		}
	}

	return Stats{
		WinRatio:       float64(wins) / float64(total),
		ProfitFactor:   profitFactor,
		MaxDrawdown:    maxDrawdown(window, th.InitialBalance),
		StopLossUsed:   float64(withSL) / float64(total),
		TakeProfitUsed: float64(withTP) / float64(total),
		HFTCount:       hft,
		MaxLayering:    maxLayering(window, th.LayeringSpan),
		LastTradeAt:    window[0].ClosedAt,
	}
}

// maxDrawdown walks the window oldest-to-newest, accumulating trade profits
// onto the reference balance, and returns the largest fractional decline from
// a running equity peak. 0 when equity never falls below a prior peak, 1 when
// losses wipe out the full peak equity (negative equity does not push the
// fraction past 1).
func maxDrawdown(window []*Trade, initialBalance float64) float64 {
	equity := initialBalance
	peak := equity
	var maxDD float64

	for i := len(window) - 1; i >= 0; i-- {
		equity += window[i].Profit
		if equity > peak {
			peak = equity
		} else if peak > 0 {
			dd := (peak - equity) / peak
			if dd > 1 {
				dd = 1
			}
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// maxLayering detects order stacking: it groups trades by (symbol, open price
// rounded to 4 decimals) and, per group, finds the largest set of trades whose
// open times all fall within the burst span of each other. Returns the
// largest burst across groups; ties go to the earliest-forming group because
// groups are visited in chronological first-trade order and the comparison is
// strict.
func maxLayering(window []*Trade, span time.Duration) int {
	type layerKey struct {
		symbol string
		price  float64
	}
	buckets := make(map[layerKey][]time.Time)
	var order []layerKey

	for i := len(window) - 1; i >= 0; i-- {
		t := window[i]
		key := layerKey{symbol: t.Symbol, price: math.Round(t.OpenPrice*layeringPriceScale) / layeringPriceScale}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], t.OpenedAt)
	}

	best := 0
	for _, key := range order {
		opens := buckets[key]
		sort.Slice(opens, func(i, j int) bool { return opens[i].Before(opens[j]) })

		lo := 0
		for hi := range opens {
			for opens[hi].Sub(opens[lo]) > span {
				lo++
			}
			if burst := hi - lo + 1; burst > best {
				best = burst
			}
		}
	}
	return best
}
