package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/assets"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	middleware "github.com/nimeshabuddhika/custodial-ledger/pkg/middlewares"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/models"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopPublisher struct{}

func (nopPublisher) Notify(context.Context, string, any) error { return nil }

func newTestRouter(t *testing.T, store *ledger.MemoryStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry, err := assets.NewRegistry(
		assets.NewBitcoinPlugin("BTC", &chaincfg.MainNetParams),
		assets.NewEtherPlugin("ETH"),
	)
	require.NoError(t, err)
	recorder := services.NewDepositRecorder(services.DepositRecorderConfig{
		Logger: zap.NewNop(), Store: store, Registry: registry, Publisher: nopPublisher{},
	})

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	NewLedgerHandler(zap.NewNop(), store, recorder).RegisterRoutes(api)
	NewBaseHandler(zap.NewNop()).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(pkg.HeaderTraceId, "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLedgerHandler_GetAccount(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance(7, "BTC", decimal.RequireFromString("1.25"))
	r := newTestRouter(t, store)

	w := do(r, http.MethodGet, "/api/v1/accounts/7/btc", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		TraceID string         `json:"traceId"`
		Data    models.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-abc", resp.TraceID)
	assert.Equal(t, "1.25", resp.Data.Balance.String())
	assert.Equal(t, "BTC", resp.Data.CoinSymbol)

	w = do(r, http.MethodGet, "/api/v1/accounts/8/BTC", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), pkg.ErrRecordNotFoundCode.Code)

	w = do(r, http.MethodGet, "/api/v1/accounts/abc/BTC", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerHandler_GetWithdrawal(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := newTestRouter(t, store)
	err := store.WithTransaction(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.InsertWithdrawal(ctx, models.Withdrawal{
			ClientID: 7, CoinSymbol: "BTC", Amount: decimal.NewFromInt(1), Recipient: "r", Key: "k-1",
		})
		return err
	})
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/v1/clients/7/withdrawals/k-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"k-1"`)

	w = do(r, http.MethodGet, "/api/v1/clients/8/withdrawals/k-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLedgerHandler_CreateDeposit(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := newTestRouter(t, store)

	w := do(r, http.MethodPost, "/api/v1/deposits", `{"clientId":7,"coinSymbol":"eth","amount":"0.3","txHash":"0xabc"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	pending, err := store.ListUnconfirmedDeposits(context.Background(), "ETH")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0.3", pending[0].Amount.String())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing hash", `{"clientId":7,"coinSymbol":"ETH","amount":"1"}`, http.StatusBadRequest},
		{"unsupported coin", `{"clientId":7,"coinSymbol":"DOGE","amount":"1","txHash":"aa"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"clientId":7,"coinSymbol":"ETH","amount":"-1","txHash":"aa"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/deposits", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestBaseHandler_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, ledger.NewMemoryStore())

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestBaseHandler_Ready(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := ReadinessCheck{Name: "postgres", Probe: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }}

	r := gin.New()
	NewBaseHandler(zap.NewNop(), healthy).RegisterRoutes(r)
	w := do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ready":true,"checks":{"postgres":"ok"}}`, w.Body.String())

	r = gin.New()
	NewBaseHandler(zap.NewNop(), healthy, down).RegisterRoutes(r)
	w = do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"ready":false,"checks":{"postgres":"ok","redis":"connection refused"}}`, w.Body.String())

	// /health stays up while a dependency is down
	w = do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
