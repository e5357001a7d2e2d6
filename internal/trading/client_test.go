package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func authServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message": "invalid credentials"}`)
			return
		}
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"message": "ok", "data": {"token": "tok123", "email": %q, "expiresAt": %q}}`,
			body["email"], expires)
	})

	mux.HandleFunc("/trading/buy", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message": "unauthorized"}`)
			return
		}
		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, OrderTypeMarket, req.OrderType)
		fmt.Fprintf(w, `{"message": "ok", "data": {"orderId": "o-1", "symbol": %q, "side": "BUY", "orderType": "MARKET", "price": %g, "quantity": %g, "status": "FILLED"}}`,
			req.Symbol, req.Price, req.Quantity)
	})

	mux.HandleFunc("/trading/wallet", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message": "ok", "data": {"balance": 1000.5, "assets": [{"symbol": "BTCUSDT", "quantity": 0.5, "avgPrice": 30000}]}}`)
	})

	mux.HandleFunc("/trading/pending-orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message": "ok", "data": [{"id": "o-2", "symbol": "BTCUSDT", "side": "SELL", "orderType": "LIMIT", "limitPrice": 40000, "quantity": 0.1, "status": "PENDING"}]}`)
	})

	mux.HandleFunc("/trading/cancel/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trading/cancel/o-2" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "order not found"}`)
			return
		}
		fmt.Fprint(w, `{"message": "cancelled"}`)
	})

	mux.HandleFunc("/price/symbols", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol": "BTCUSDT", "name": "Bitcoin", "icon": "btc.svg"}]`)
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	srv := authServer(t)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zap.NewNop()), srv
}

func TestLoginStoresSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.Login(ctx, "a@b.c", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok123", res.Token)
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, "a@b.c", c.Email())

	c.Logout()
	assert.False(t, c.IsAuthenticated())
}

func TestLoginFailureSurfacesServerMessage(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
	assert.False(t, c.IsAuthenticated())
}

func TestBuyRequiresAuthentication(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Buy(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Price: 30000, Quantity: 0.1, OrderType: OrderTypeMarket,
	})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestBuyMarketOrder(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@b.c", "hunter2")
	require.NoError(t, err)

	res, err := c.Buy(ctx, OrderRequest{
		Symbol: "BTCUSDT", Price: 30000, Quantity: 0.1, OrderType: OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.Equal(t, 30000.0, res.Price)
}

func TestWalletAndPendingOrders(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@b.c", "hunter2")
	require.NoError(t, err)

	wallet, err := c.Wallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.5, wallet.Balance)
	require.Len(t, wallet.Assets, 1)
	assert.Equal(t, "BTCUSDT", wallet.Assets[0].Symbol)

	orders, err := c.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-2", orders[0].ID)

	require.NoError(t, c.Cancel(ctx, "o-2"))

	err = c.Cancel(ctx, "o-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order not found")
}

func TestSymbols(t *testing.T) {
	c, _ := newTestClient(t)

	symbols, err := c.Symbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "BTCUSDT", symbols[0].Symbol)
	assert.Equal(t, "Bitcoin", symbols[0].Name)
}
