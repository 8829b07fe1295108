package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propguard/riskwatch/internal/risk"
)

// Runtime holds the mutable risk thresholds behind an atomic pointer.
// Readers take a value snapshot; writers merge under a lock and swap in a
// fresh copy, so concurrent partial updates never lose each other. A cycle
// that is in flight during an update sees old values for accounts it has
// already started and new values for the rest.
type Runtime struct {
	applyMu sync.Mutex
	current atomic.Pointer[risk.Thresholds]
}

// NewRuntime creates a Runtime seeded with the given thresholds.
func NewRuntime(th risk.Thresholds) *Runtime {
	r := &Runtime{}
	r.current.Store(&th)
	return r
}

// Snapshot returns the current thresholds by value.
func (r *Runtime) Snapshot() risk.Thresholds {
	return *r.current.Load()
}

// ThresholdUpdate is a partial update; nil fields are left unchanged.
// Durations are given in seconds to match the admin API.
type ThresholdUpdate struct {
	WindowSize          *int     `json:"window_size,omitempty"`
	InitialBalance      *float64 `json:"initial_balance,omitempty"`
	HFTDurationSeconds  *int     `json:"hft_duration,omitempty"`
	LayeringSpanSeconds *int     `json:"layering_span,omitempty"`
	WinRatio            *float64 `json:"win_ratio_threshold,omitempty"`
	Drawdown            *float64 `json:"drawdown_threshold,omitempty"`
	StopLossUsage       *float64 `json:"stop_loss_threshold,omitempty"`
	TakeProfitUsage     *float64 `json:"take_profit_threshold,omitempty"`
	HFTCount            *int     `json:"hft_count_threshold,omitempty"`
	LayeringCount       *int     `json:"layering_threshold,omitempty"`
	AlertScore          *float64 `json:"risk_threshold,omitempty"`
}

// Validate rejects out-of-range fields before they are applied.
func (u *ThresholdUpdate) Validate() error {
	if u.WindowSize != nil && *u.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	if u.InitialBalance != nil && *u.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive")
	}
	if u.HFTDurationSeconds != nil && *u.HFTDurationSeconds <= 0 {
		return fmt.Errorf("hft_duration must be positive")
	}
	if u.LayeringSpanSeconds != nil && *u.LayeringSpanSeconds <= 0 {
		return fmt.Errorf("layering_span must be positive")
	}
	for name, v := range map[string]*float64{
		"win_ratio_threshold":   u.WinRatio,
		"drawdown_threshold":    u.Drawdown,
		"stop_loss_threshold":   u.StopLossUsage,
		"take_profit_threshold": u.TakeProfitUsage,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
	}
	if u.AlertScore != nil && (*u.AlertScore < 0 || *u.AlertScore > 100) {
		return fmt.Errorf("risk_threshold must be in [0,100]")
	}
	return nil
}

// Apply merges the update onto the current thresholds and swaps the result
// in atomically. Returns the thresholds now in effect.
func (r *Runtime) Apply(u ThresholdUpdate) risk.Thresholds {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	th := r.Snapshot()

	if u.WindowSize != nil {
		th.WindowSize = *u.WindowSize
	}
	if u.InitialBalance != nil {
		th.InitialBalance = *u.InitialBalance
	}
	if u.HFTDurationSeconds != nil {
		th.HFTDuration = time.Duration(*u.HFTDurationSeconds) * time.Second
	}
	if u.LayeringSpanSeconds != nil {
		th.LayeringSpan = time.Duration(*u.LayeringSpanSeconds) * time.Second
	}
	if u.WinRatio != nil {
		th.WinRatio = *u.WinRatio
	}
	if u.Drawdown != nil {
		th.Drawdown = *u.Drawdown
	}
	if u.StopLossUsage != nil {
		th.StopLossUsage = *u.StopLossUsage
	}
	if u.TakeProfitUsage != nil {
		th.TakeProfitUsage = *u.TakeProfitUsage
	}
	if u.HFTCount != nil {
		th.HFTCount = *u.HFTCount
	}
	if u.LayeringCount != nil {
		th.LayeringCount = *u.LayeringCount
	}
	if u.AlertScore != nil {
		th.AlertScore = *u.AlertScore
	}

	r.current.Store(&th)
	return th
}
