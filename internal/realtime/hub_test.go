package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propguard/riskwatch/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSnapshot(login int64, score float64) *risk.Snapshot {
	return &risk.Snapshot{
		ID:           "rm_ws",
		AccountLogin: login,
		Timestamp:    time.Now().UTC(),
		Stats: risk.Stats{
			LastTradeAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		RiskScore:   score,
		RiskSignals: []string{risk.SignalLowWinRatio},
	}
}

// startHub runs a hub plus an HTTP server exposing it and returns a dialer URL.
func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return hub, wsURL, cancel
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	return event
}

func TestHub_AlertReachesClient(t *testing.T) {
	hub, wsURL, cancel := startHub(t)
	defer cancel()

	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	hub.Alert(context.Background(), testSnapshot(1001, 92.5))

	event := readEvent(t, conn)
	assert.Equal(t, EventAlert, event.Type)

	data, err := json.Marshal(event.Data)
	require.NoError(t, err)
	var alert AlertData
	require.NoError(t, json.Unmarshal(data, &alert))
	assert.Equal(t, int64(1001), alert.AccountLogin)
	assert.Equal(t, 92.5, alert.RiskScore)
	assert.Equal(t, []string{risk.SignalLowWinRatio}, alert.RiskSignals)
}

func TestHub_SubscriptionFiltersByLogin(t *testing.T) {
	hub, wsURL, cancel := startHub(t)
	defer cancel()

	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	// Watch only account 2002.
	require.NoError(t, conn.WriteJSON(Subscription{Logins: []int64{2002}}))
	waitForSubscription(t, hub, func(sub Subscription) bool {
		return len(sub.Logins) == 1 && sub.Logins[0] == 2002
	})

	hub.Alert(context.Background(), testSnapshot(1001, 95))
	hub.Alert(context.Background(), testSnapshot(2002, 85))

	event := readEvent(t, conn)
	data, _ := json.Marshal(event.Data)
	var alert AlertData
	require.NoError(t, json.Unmarshal(data, &alert))
	assert.Equal(t, int64(2002), alert.AccountLogin)
}

func TestHub_SubscriptionFiltersByMinScore(t *testing.T) {
	hub, wsURL, cancel := startHub(t)
	defer cancel()

	conn := dial(t, wsURL)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Subscription{MinScore: 90}))
	waitForSubscription(t, hub, func(sub Subscription) bool {
		return sub.MinScore == 90
	})

	hub.Alert(context.Background(), testSnapshot(1001, 85)) // below the bar
	hub.Alert(context.Background(), testSnapshot(2002, 95))

	event := readEvent(t, conn)
	data, _ := json.Marshal(event.Data)
	var alert AlertData
	require.NoError(t, json.Unmarshal(data, &alert))
	assert.Equal(t, int64(2002), alert.AccountLogin)
}

func TestHub_ShutdownRejectsNewConnections(t *testing.T) {
	hub, wsURL, cancel := startHub(t)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-hub.done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestHub_StatsCountClients(t *testing.T) {
	hub, wsURL, cancel := startHub(t)
	defer cancel()

	assert.Equal(t, 0, hub.Stats()["connected_clients"])

	dial(t, wsURL)
	dial(t, wsURL)
	waitForClients(t, hub, 2)

	assert.Equal(t, 2, hub.Stats()["connected_clients"])
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Stats()["connected_clients"] == n
	}, 2*time.Second, 10*time.Millisecond)
}

// waitForSubscription polls until the single client's filter matches.
func waitForSubscription(t *testing.T, hub *Hub, match func(Subscription) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for client := range hub.clients {
			client.mu.RLock()
			sub := client.sub
			client.mu.RUnlock()
			if match(sub) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
