package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fatfinger/internal/alert"
	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/internal/obs"
	"fatfinger/internal/order"
)

type stubBook struct{}

func (stubBook) Orders() []model.Order {
	return []model.Order{{ID: "ord-1", Symbol: "BTC/USDT", Side: enum.OrderSideBuy, Status: enum.OrderStatusOpen, Price: decimal.RequireFromString("42500")}}
}
func (stubBook) History() []model.Order { return nil }
func (stubBook) Positions() []model.Position {
	return []model.Position{{ID: "ord-0", Symbol: "ETH/USDT", RemainingAmount: decimal.NewFromInt(1)}}
}
func (stubBook) ClosedPositions() []model.Position { return nil }
func (stubBook) Stats() order.Stats                { return order.Stats{ActiveOrders: 1, OpenPositions: 1} }

type stubController struct {
	stopped atomic.Bool
}

func (c *stubController) Candidates() []model.Candidate {
	return []model.Candidate{{Symbol: "BTC/USDT", Volatility: 12.5}}
}
func (c *stubController) Stop()         { c.stopped.Store(true) }
func (c *stubController) Stopped() bool { return c.stopped.Load() }

type fixture struct {
	srv  *Server
	bus  *alert.Bus
	ctl  *stubController
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	bus := alert.NewBus(alert.Config{}, zap.NewNop(), clock.NewMock(), metrics)
	go bus.Run(t.Context())
	ctl := &stubController{}

	srv, err := NewServer(Config{AllowedOrigins: []string{"http://localhost:3000"}}, bus, stubBook{}, ctl, reg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Start(t.Context()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, bus: bus, ctl: ctl, http: ts}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAlertsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit(alert.OrderPlaced, alert.OrderPayload{Order: model.Order{ID: "a"}})
	f.bus.Emit(alert.OrderFailed, alert.OrderPayload{Order: model.Order{ID: "b"}, Error: "boom"})
	f.bus.Emit(alert.HighVolatility, alert.VolatilityPayload{Threshold: 10})

	var all []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/alerts", &all))
	require.Len(t, all, 3)
	assert.Equal(t, "order_placed", all[0]["type"])
	assert.Equal(t, "high_volatility", all[2]["type"])

	var latest []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/alerts?n=1", &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, float64(3), latest[0]["seq"])

	var failed []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/alerts?type=order_failed&type=order_placed", &failed))
	require.Len(t, failed, 2)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/alerts?n=x", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/alerts?type=nope", nil))
}

func TestViewEndpoints(t *testing.T) {
	f := newFixture(t)

	var orders struct {
		Active []model.Order `json:"active"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/orders", &orders))
	require.Len(t, orders.Active, 1)
	assert.Equal(t, enum.OrderStatusOpen, orders.Active[0].Status)
	assert.True(t, orders.Active[0].Price.Equal(decimal.RequireFromString("42500")))

	var positions struct {
		Open []model.Position `json:"open"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/positions", &positions))
	require.Len(t, positions.Open, 1)

	var candidates []model.Candidate
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/candidates", &candidates))
	require.Len(t, candidates, 1)
	assert.Equal(t, 12.5, candidates[0].Volatility)

	var stats order.Stats
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/stats", &stats))
	assert.Equal(t, 1, stats.ActiveOrders)
}

func TestStopAndHealth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/api/v1/stop", nil))

	resp, err := http.Post(f.http.URL+"/api/v1/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, f.ctl.Stopped())

	var health map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["stopped"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit(alert.Error, alert.ErrorPayload{Message: "x"})

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fatfinger_alerts_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/alerts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(f *fixture) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
}

func TestWebSocketStreamsAlerts(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	f.bus.Emit(alert.OrderFilled, alert.OrderPayload{Order: model.Order{ID: "ord-9"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Seq     uint64     `json:"seq"`
		Type    alert.Type `json:"type"`
		Payload struct {
			Order model.Order `json:"order"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, alert.OrderFilled, got.Type)
	assert.Equal(t, "ord-9", got.Payload.Order.ID)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := &client{id: "slow", hub: hub, send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}
	go hub.Run(t.Context())

	hub.Broadcast([]byte("1"))
	hub.Broadcast([]byte("2"))

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), hub.Dropped())
	_, open := <-c.send
	assert.True(t, open)
	_, open = <-c.send
	assert.False(t, open)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Config{}, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
