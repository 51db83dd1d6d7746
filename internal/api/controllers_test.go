package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-core/internal/engine"
	"paper-core/internal/events"
	"paper-core/internal/market"
	"paper-core/internal/monitor"
	"paper-core/internal/order"
	"paper-core/internal/portfolio"
	"paper-core/internal/position"
	"paper-core/pkg/db"
)

type halfRand struct{}

func (halfRand) Float64() float64 { return 0.5 }

type testEnv struct {
	ts   *httptest.Server
	proc *order.Processor
	hub  *events.Hub
}

func newTestAPIServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	bus := events.NewBus()
	hub := events.NewHub()
	metrics := monitor.NewSystemMetrics()
	feed := market.NewFeed([]market.Seed{{Symbol: "AAPL", Price: 150}}, bus, market.FeedConfig{}, nil, halfRand{})

	store := order.NewStore(database, feed, order.StoreConfig{CommissionRate: 0.0001}, nil)
	ledger := position.NewLedger(database, bus, hub, position.LedgerConfig{}, nil, metrics)
	agg := portfolio.NewAggregator(database, hub, portfolio.Config{}, nil)
	settler := engine.NewSettler(database, ledger, agg, hub, bus, engine.SettlerConfig{CommissionRate: 0.0001}, nil, metrics)
	proc := order.NewProcessor(store, feed, settler, order.ProcessorConfig{}, halfRand{}, nil, metrics)
	svc := engine.NewImpl(engine.Config{
		Orders: store, Ledger: ledger, Portfolios: agg, Settler: settler,
		Market: feed, Publisher: hub, Metrics: metrics,
		DefaultInitialCapital: 100000, Version: "test",
	})

	server := NewServer(Options{
		Engine:    svc,
		DB:        database,
		Hub:       hub,
		Metrics:   metrics,
		JWTSecret: "test-secret",
		RateLimit: 1000,
		RateBurst: 1000,
	})
	ts := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		ts.Close()
		_ = database.Close()
	})
	return &testEnv{ts: ts, proc: proc, hub: hub}
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL, email string) string {
	t.Helper()
	var regResp struct {
		UserID string `json:"user_id"`
	}
	status := doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "StrongPass123!",
	}, &regResp)
	require.Equal(t, http.StatusCreated, status)

	var loginResp struct {
		Token string `json:"token"`
	}
	status = doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"email":    email,
		"password": "StrongPass123!",
	}, &loginResp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Errors  []struct {
		Kind  string `json:"kind"`
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"errors"`
}

func createPortfolio(t *testing.T, env *testEnv, token string) string {
	t.Helper()
	var resp envelope[db.Portfolio]
	status := doJSONRequest(t, env.ts.Client(), http.MethodPost, env.ts.URL+"/api/portfolios", token,
		map[string]any{"name": "main"}, &resp)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, resp.Success)
	assert.Equal(t, 100000.0, resp.Data.CashBalance)
	return resp.Data.ID
}

func TestAuthRequired(t *testing.T) {
	env := newTestAPIServer(t)
	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/portfolios", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_TOKEN", resp.Code)

	status = doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/portfolios", "garbage", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", resp.Code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	registerAndLogin(t, client, env.ts.URL, "tester@example.com")

	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/auth/register", "", map[string]string{
		"email": "TESTER@example.com", "password": "StrongPass123!",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	var resp struct {
		Code string `json:"code"`
	}
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/auth/login", "", map[string]string{
		"email": "tester@example.com", "password": "nope-nope",
	}, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", resp.Code)
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	token := registerAndLogin(t, client, env.ts.URL, "tester@example.com")
	pfID := createPortfolio(t, env, token)

	var resp envelope[db.Order]
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/portfolios/"+pfID+"/orders", token,
		map[string]any{"symbol": "AAPL", "side": "BUY", "type": "LIMIT", "quantity": 10}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "MISSING_LIMIT_PRICE", resp.Errors[0].Code)
	assert.Equal(t, db.StatusRejected, resp.Data.Status)

	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/portfolios/"+pfID+"/orders", token,
		map[string]any{"symbol": "AAPL", "side": "BUY", "type": "MARKET", "quantity": 100000}, &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp.Errors[0].Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	token := registerAndLogin(t, client, env.ts.URL, "tester@example.com")
	pfID := createPortfolio(t, env, token)
	base := env.ts.URL + "/api"

	var placed envelope[db.Order]
	status := doJSONRequest(t, client, http.MethodPost, base+"/portfolios/"+pfID+"/orders", token,
		map[string]any{"symbol": "aapl", "side": "buy", "type": "limit", "quantity": 10, "limit_price": 100}, &placed)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, db.StatusPending, placed.Data.Status)
	assert.Equal(t, "AAPL", placed.Data.Symbol)

	var modified envelope[db.Order]
	status = doJSONRequest(t, client, http.MethodPatch, base+"/orders/"+placed.Data.ID, token,
		map[string]any{"quantity": 20}, &modified)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "20", modified.Data.RemainingQuantity.String())

	status = doJSONRequest(t, client, http.MethodPatch, base+"/orders/"+placed.Data.ID, token,
		map[string]any{"quantity": 5}, &modified)
	assert.Equal(t, http.StatusBadRequest, status)

	var list envelope[[]db.Order]
	status = doJSONRequest(t, client, http.MethodGet, base+"/portfolios/"+pfID+"/orders?status=pending", token, nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list.Data, 1)

	var cancelled envelope[db.Order]
	status = doJSONRequest(t, client, http.MethodDelete, base+"/orders/"+placed.Data.ID, token, nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, db.StatusCancelled, cancelled.Data.Status)

	status = doJSONRequest(t, client, http.MethodDelete, base+"/orders/"+placed.Data.ID, token, nil, &cancelled)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_STATE", cancelled.Errors[0].Code)
}

func TestPositionFlowOverHTTP(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	token := registerAndLogin(t, client, env.ts.URL, "tester@example.com")
	pfID := createPortfolio(t, env, token)
	base := env.ts.URL + "/api"

	status := doJSONRequest(t, client, http.MethodPost, base+"/portfolios/"+pfID+"/orders", token,
		map[string]any{"symbol": "AAPL", "side": "BUY", "type": "MARKET", "quantity": 10}, nil)
	require.Equal(t, http.StatusAccepted, status)
	_, err := env.proc.Sweep(context.Background())
	require.NoError(t, err)

	var positions envelope[[]db.Position]
	status = doJSONRequest(t, client, http.MethodGet, base+"/portfolios/"+pfID+"/positions", token, nil, &positions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, positions.Data, 1)
	pos := positions.Data[0]

	var lvl envelope[db.Position]
	status = doJSONRequest(t, client, http.MethodPut, base+"/positions/"+pos.ID+"/stop-loss", token,
		map[string]any{"price": 200}, &lvl)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_LEVEL", lvl.Errors[0].Code)

	status = doJSONRequest(t, client, http.MethodPut, base+"/positions/"+pos.ID+"/stop-loss", token,
		map[string]any{"price": 140}, &lvl)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 140.0, lvl.Data.StopLoss)

	status = doJSONRequest(t, client, http.MethodPut, base+"/positions/"+pos.ID+"/take-profit", token,
		map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var closed envelope[engine.CloseResult]
	status = doJSONRequest(t, client, http.MethodPost, base+"/positions/"+pos.ID+"/close", token, nil, &closed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, db.PositionClosed, closed.Data.Position.Status)

	var trades envelope[[]db.Trade]
	status = doJSONRequest(t, client, http.MethodGet, base+"/portfolios/"+pfID+"/trades", token, nil, &trades)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, trades.Data, 2)

	var summary envelope[portfolio.Summary]
	status = doJSONRequest(t, client, http.MethodGet, base+"/portfolios/"+pfID, token, nil, &summary)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, summary.Data.Positions)
}

func TestOtherUsersPortfolioIsNotFound(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	owner := registerAndLogin(t, client, env.ts.URL, "owner@example.com")
	other := registerAndLogin(t, client, env.ts.URL, "other@example.com")
	pfID := createPortfolio(t, env, owner)

	var resp envelope[any]
	status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/portfolios/"+pfID, other, nil, &resp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PORTFOLIO_NOT_FOUND", resp.Errors[0].Code)
}

func TestPricesArePublic(t *testing.T) {
	env := newTestAPIServer(t)
	var resp envelope[[]engine.PriceQuote]
	status := doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/prices", "", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 150.0, resp.Data[0].Price)

	status = doJSONRequest(t, env.ts.Client(), http.MethodGet, env.ts.URL+"/api/prices/NOPE", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebsocketStreamsOwnUpdates(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.ts.Client()
	token := registerAndLogin(t, client, env.ts.URL, "tester@example.com")
	pfID := createPortfolio(t, env, token)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	userID, err := parseToken(token, "test-secret")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.hub.Subscribers(userID) == 1 },
		2*time.Second, 10*time.Millisecond)

	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/portfolios/"+pfID+"/orders", token,
		map[string]any{"symbol": "AAPL", "side": "BUY", "type": "LIMIT", "quantity": 1, "limit_price": 1}, nil)
	require.Equal(t, http.StatusAccepted, status)

	var msg struct {
		Type string   `json:"type"`
		Data db.Order `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.OrderUpdate), msg.Type)
	assert.Equal(t, pfID, msg.Data.PortfolioID)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}
