// Package notify delivers risk alerts to an external webhook endpoint.
//
// Delivery is fire-and-forget: one POST per alert with a short timeout, no
// retry queue. Failures are logged and counted, never propagated, so the
// evaluation pipeline continues regardless of the receiver's health.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/propguard/riskwatch/internal/metrics"
	"github.com/propguard/riskwatch/internal/risk"
)

// Payload is the JSON body of one alert delivery.
type Payload struct {
	TradingAccountLogin int64    `json:"trading_account_login"`
	RiskSignals         []string `json:"risk_signals"`
	RiskScore           float64  `json:"risk_score"`
	LastTradeAt         *string  `json:"last_trade_at"` // ISO-8601 or null
}

// Notifier posts alert payloads to a configured endpoint.
type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a webhook notifier. An empty URL disables delivery.
func New(url string, timeout time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Alert serializes the snapshot into the webhook payload and attempts one
// HTTP POST. Implements the scheduler's Alerter.
func (n *Notifier) Alert(ctx context.Context, snap *risk.Snapshot) {
	if n.url == "" {
		n.logger.Debug("webhook disabled, dropping alert", "login", snap.AccountLogin)
		return
	}

	payload := Payload{
		TradingAccountLogin: snap.AccountLogin,
		RiskSignals:         snap.RiskSignals,
		RiskScore:           snap.RiskScore,
	}
	if payload.RiskSignals == nil {
		payload.RiskSignals = []string{}
	}
	if !snap.LastTradeAt.IsZero() {
		iso := snap.LastTradeAt.UTC().Format(time.RFC3339)
		payload.LastTradeAt = &iso
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.fail(snap.AccountLogin, "marshal payload", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.fail(snap.AccountLogin, "build request", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail(snap.AccountLogin, "post", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Error("webhook delivery rejected",
			"login", snap.AccountLogin,
			"status", resp.StatusCode,
		)
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	n.logger.Info("webhook delivered",
		"login", snap.AccountLogin,
		"score", snap.RiskScore,
		"status", resp.StatusCode,
	)
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
}

func (n *Notifier) fail(login int64, stage string, err error) {
	n.logger.Error("webhook delivery failed",
		"login", login,
		"stage", stage,
		"error", err,
	)
	metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
}
