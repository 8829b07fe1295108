package risk

// Risk signal tags. Stable strings: they are persisted, returned by the
// report API, and sent in webhook payloads.
const (
	SignalLowWinRatio         = "low_win_ratio"
	SignalExcessiveDrawdown   = "excessive_drawdown"
	SignalStopLossAvoidance   = "stop_loss_avoidance"
	SignalTakeProfitAvoidance = "take_profit_avoidance"
	SignalHighFrequency       = "high_frequency_trading"
	SignalLayering            = "order_layering"
)

// Signals classifies the statistics against the thresholds and returns the
// tags of every breach, in fixed evaluation order: win ratio, drawdown,
// stop-loss usage, take-profit usage, HFT, layering. No breaches yields an
// empty (nil) set.
func Signals(s Stats, th Thresholds) []string {
	var signals []string

	if s.WinRatio < th.WinRatio {
		signals = append(signals, SignalLowWinRatio)
	}
	if s.MaxDrawdown > th.Drawdown {
		signals = append(signals, SignalExcessiveDrawdown)
	}
	if s.StopLossUsed < th.StopLossUsage {
		signals = append(signals, SignalStopLossAvoidance)
	}
	if s.TakeProfitUsed < th.TakeProfitUsage {
		signals = append(signals, SignalTakeProfitAvoidance)
	}
	if th.HFTCount > 0 && s.HFTCount >= th.HFTCount {
		signals = append(signals, SignalHighFrequency)
	}
	if th.LayeringCount > 0 && s.MaxLayering >= th.LayeringCount {
		signals = append(signals, SignalLayering)
	}

	return signals
}
