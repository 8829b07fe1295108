package risk

import (
	"math"
	"time"

	"github.com/propguard/riskwatch/internal/idgen"
)

// Factor weights. They sum to 100 and every factor is normalized to [0,1] in
// its worsening direction, so the composite score is bounded [0,100] and
// monotone: worsening any one statistic never lowers the score.
const (
	weightWinRatio = 25.0
	weightDrawdown = 25.0
	weightStopLoss = 20.0
	weightHFT      = 15.0
	weightLayering = 15.0
)

// Score maps statistics to a composite risk score in [0,100], higher = riskier.
func Score(s Stats, th Thresholds) float64 {
	score := weightWinRatio*winRatioFactor(s, th) +
		weightDrawdown*drawdownFactor(s, th) +
		weightStopLoss*stopLossFactor(s, th) +
		weightHFT*hftFactor(s, th) +
		weightLayering*layeringFactor(s, th)

	score = math.Round(score*100) / 100
	return clamp(score, 0, 100)
}

// winRatioFactor measures how far below the win-ratio threshold the window
// sits. At or above threshold contributes nothing; a 0% win ratio saturates.
func winRatioFactor(s Stats, th Thresholds) float64 {
	if th.WinRatio <= 0 {
		return 0
	}
	return clamp((th.WinRatio-s.WinRatio)/th.WinRatio, 0, 1)
}

// drawdownFactor scales drawdown against its threshold, saturating at the
// threshold itself (losing the full configured fraction of peak equity).
func drawdownFactor(s Stats, th Thresholds) float64 {
	if th.Drawdown <= 0 {
		return clamp(s.MaxDrawdown, 0, 1)
	}
	return clamp(s.MaxDrawdown/th.Drawdown, 0, 1)
}

// stopLossFactor measures stop-loss discipline shortfall below the threshold.
func stopLossFactor(s Stats, th Thresholds) float64 {
	if th.StopLossUsage <= 0 {
		return 0
	}
	return clamp((th.StopLossUsage-s.StopLossUsed)/th.StopLossUsage, 0, 1)
}

// hftFactor scales HFT count against twice the signal threshold.
func hftFactor(s Stats, th Thresholds) float64 {
	if th.HFTCount <= 0 {
		return 0
	}
	return clamp(float64(s.HFTCount)/float64(2*th.HFTCount), 0, 1)
}

// layeringFactor scales burst size against twice the signal threshold. A
// burst of 1 is just a single order and contributes nothing.
func layeringFactor(s Stats, th Thresholds) float64 {
	if th.LayeringCount <= 0 {
		return 0
	}
	return clamp(float64(s.MaxLayering-1)/float64(2*th.LayeringCount), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Evaluate runs the full calculate-score-classify chain over a window and
// returns a snapshot ready to persist. Returns nil for an empty window:
// accounts with no trade history are skipped, never zero-filled, so a lack of
// data can't masquerade as a perfect record.
func Evaluate(login int64, window []*Trade, th Thresholds, now time.Time) *Snapshot {
	if len(window) == 0 {
		return nil
	}

	stats := Calculate(window, th)
	return &Snapshot{
		ID:           idgen.WithPrefix("rm_"),
		AccountLogin: login,
		Timestamp:    now,
		Stats:        stats,
		RiskScore:    Score(stats, th),
		RiskSignals:  Signals(stats, th),
	}
}
