package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propguard/riskwatch/internal/config"
	"github.com/propguard/riskwatch/internal/logging"
	"github.com/propguard/riskwatch/internal/risk"
)

// RiskReport is the JSON shape returned by the report endpoints. It matches
// the webhook payload so downstream consumers parse one format.
type RiskReport struct {
	TradingAccountLogin int64      `json:"trading_account_login"`
	RiskSignals         []string   `json:"risk_signals"`
	RiskScore           float64    `json:"risk_score"`
	LastTradeAt         *time.Time `json:"last_trade_at"`
}

func reportFromSnapshot(snap *risk.Snapshot) RiskReport {
	signals := snap.RiskSignals
	if signals == nil {
		signals = []string{}
	}
	report := RiskReport{
		TradingAccountLogin: snap.AccountLogin,
		RiskSignals:         signals,
		RiskScore:           snap.RiskScore,
	}
	if !snap.LastTradeAt.IsZero() {
		t := snap.LastTradeAt
		report.LastTradeAt = &t
	}
	return report
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "riskwatch",
		"version": "1.0.0",
		"endpoints": gin.H{
			"risk_report":    "/risk-report/:login",
			"user_risk":      "/risk/user/:user_id",
			"challenge_risk": "/risk/challenge/:challenge_id",
			"admin_config":   "/admin/config",
			"alerts_ws":      "/ws/alerts",
			"health":         "/health",
			"metrics":        "/metrics",
		},
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	code := http.StatusOK
	state := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":    state,
		"checks":    statuses,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "dead"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
}

// getRiskReport returns the latest persisted snapshot for an account.
func (s *Server) getRiskReport(c *gin.Context) {
	login, err := strconv.ParseInt(c.Param("login"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_login",
			"message": "Account login must be an integer",
		})
		return
	}

	snap, err := s.snapshots.Latest(c.Request.Context(), login)
	if err != nil {
		if errors.Is(err, risk.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No risk data for this account",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to load snapshot",
			"login", login, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load risk report",
		})
		return
	}

	c.JSON(http.StatusOK, reportFromSnapshot(snap))
}

func (s *Server) getUserRiskReport(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "User ID must be an integer",
		})
		return
	}

	accounts, err := s.trades.AccountsByUser(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list user accounts",
			"user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load accounts",
		})
		return
	}

	s.evaluateCombinedWindow(c, userID, accounts,
		"No accounts found for this user", "No trades found for this user")
}

func (s *Server) getChallengeRiskReport(c *gin.Context) {
	challengeID, err := strconv.ParseInt(c.Param("challenge_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_challenge_id",
			"message": "Challenge ID must be an integer",
		})
		return
	}

	accounts, err := s.trades.AccountsByChallenge(c.Request.Context(), challengeID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list challenge accounts",
			"challenge_id", challengeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load accounts",
		})
		return
	}

	s.evaluateCombinedWindow(c, challengeID, accounts,
		"No accounts found for this challenge", "No trades found for this challenge")
}

// evaluateCombinedWindow computes one fresh report over the single most
// recent window of trades across all the entity's accounts, without
// persisting it. The report carries the entity ID (user or challenge) in
// the login field.
func (s *Server) evaluateCombinedWindow(c *gin.Context, entityID int64, accounts []*risk.Account, noAccountsMsg, noTradesMsg string) {
	if len(accounts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": noAccountsMsg,
		})
		return
	}

	th := s.runtime.Snapshot()
	logins := make([]int64, len(accounts))
	for i, a := range accounts {
		logins[i] = a.Login
	}

	window, err := s.trades.RecentTradesForLogins(c.Request.Context(), logins, th.WindowSize)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load trades",
			"logins", len(logins), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load trades",
		})
		return
	}

	snap := risk.Evaluate(entityID, window, th, time.Now().UTC())
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": noTradesMsg,
		})
		return
	}

	c.JSON(http.StatusOK, reportFromSnapshot(snap))
}

// adminAuthMiddleware guards the config endpoints with a shared secret.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin endpoints are disabled (no ADMIN_SECRET configured)",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, thresholdsResponse(s.runtime.Snapshot()))
}

// updateConfig applies a partial threshold update. Omitted fields keep their
// current values. The new thresholds take effect on the next account
// evaluation the scheduler starts.
func (s *Server) updateConfig(c *gin.Context) {
	var update config.ThresholdUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body: " + err.Error(),
		})
		return
	}

	if err := update.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_thresholds",
			"message": err.Error(),
		})
		return
	}

	applied := s.runtime.Apply(update)
	logging.L(c.Request.Context()).Info("thresholds updated",
		"win_ratio", applied.WinRatio,
		"drawdown", applied.Drawdown,
		"alert_score", applied.AlertScore,
	)

	c.JSON(http.StatusOK, thresholdsResponse(applied))
}

func thresholdsResponse(th risk.Thresholds) gin.H {
	return gin.H{
		"window_size":           th.WindowSize,
		"initial_balance":       th.InitialBalance,
		"hft_duration":          int(th.HFTDuration.Seconds()),
		"layering_span":         int(th.LayeringSpan.Seconds()),
		"win_ratio_threshold":   th.WinRatio,
		"drawdown_threshold":    th.Drawdown,
		"stop_loss_threshold":   th.StopLossUsage,
		"take_profit_threshold": th.TakeProfitUsage,
		"hft_count_threshold":   th.HFTCount,
		"layering_threshold":    th.LayeringCount,
		"risk_threshold":        th.AlertScore,
	}
}
