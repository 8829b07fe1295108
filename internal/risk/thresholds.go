package risk

import "time"

// Thresholds are the runtime-tunable parameters of one evaluation. The
// scheduler reads a fresh copy at the start of each account's evaluation, so
// a mid-cycle update applies to later accounts in the same cycle but never
// retroactively to earlier ones.
type Thresholds struct {
	// WindowSize is the number of most recent closed trades per window.
	WindowSize int `json:"window_size"`
	// InitialBalance is the reference equity the drawdown walk starts from.
	InitialBalance float64 `json:"initial_balance"`
	// HFTDuration is the max holding time for a trade to count as HFT
	// (inclusive).
	HFTDuration time.Duration `json:"hft_duration"`
	// LayeringSpan is the burst window for order-stacking detection
	// (inclusive).
	LayeringSpan time.Duration `json:"layering_span"`

	WinRatio        float64 `json:"win_ratio_threshold"`
	Drawdown        float64 `json:"drawdown_threshold"`
	StopLossUsage   float64 `json:"stop_loss_threshold"`
	TakeProfitUsage float64 `json:"take_profit_threshold"`
	HFTCount        int     `json:"hft_count_threshold"`
	LayeringCount   int     `json:"layering_threshold"`

	// AlertScore is the composite score above which a webhook fires.
	AlertScore float64 `json:"risk_threshold"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WindowSize:      100,
		InitialBalance:  100_000,
		HFTDuration:     60 * time.Second,
		LayeringSpan:    5 * time.Second,
		WinRatio:        0.3,
		Drawdown:        0.5,
		StopLossUsage:   0.5,
		TakeProfitUsage: 0.5,
		HFTCount:        3,
		LayeringCount:   3,
		AlertScore:      80,
	}
}
