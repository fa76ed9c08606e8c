package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/optionvault/internal/vault/application"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/adapter"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/persistence/memory"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultAcct = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poolAcct  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	token := adapter.NewReserveToken("DPX", 18)
	require.NoError(t, token.Mint(alice, decimal.NewFromInt(500)))
	require.NoError(t, token.Approve(ctx, alice, vaultAcct, decimal.NewFromInt(500)))
	oracle := adapter.NewOracleAggregator(time.Hour, clock)
	oracle.UpdateOracleForAsset("DPX", adapter.NewStaticFeed(decimal.NewFromInt(100), clock))

	vault, err := domain.NewVault(domain.Config{
		Owner: owner, Account: vaultAcct, Asset: "DPX", AssetDecimals: 18, Clock: clock,
	}, nil, token, adapter.NewStakingPool(token, poolAcct), oracle, adapter.NewFixedPricing(decimal.NewFromInt(4)))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := application.NewVaultService(ctx, vault, memory.NewRepository(), nil, nil, logger)
	require.NoError(t, err)

	r := gin.New()
	NewVaultHandler(svc, logger).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func do(r *gin.Engine, method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(HeaderCaller, caller.Hex())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bootstrap(t *testing.T, r *gin.Engine) {
	t.Helper()
	w := do(r, http.MethodPost, "/api/v1/vault/strikes", &owner, gin.H{"strikes": []string{"80", "120", "150", "0"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/v1/vault/deposits", &alice, gin.H{"strike_index": 0, "amount": "10"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/v1/vault/bootstrap", &owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestVaultHandler_Commands(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/vault/bootstrap", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/vault/strikes", &alice, gin.H{"strikes": []string{"80"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", decode(t, w)["kind"])

	bootstrap(t, r)

	w = do(r, http.MethodPost, "/api/v1/vault/purchases", &alice, gin.H{"strike_index": 0, "amount": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PurchaseEventType, events[0].(map[string]any)["type"])

	w = do(r, http.MethodPost, "/api/v1/vault/expire", &owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "too_early", decode(t, w)["kind"])
}

func TestVaultHandler_BadInput(t *testing.T) {
	r := newRouter(t)
	_ = do(r, http.MethodPost, "/api/v1/vault/strikes", &owner, gin.H{"strikes": []string{"80", "0", "0", "0"}})

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"missing index", "/api/v1/vault/deposits", gin.H{"amount": "1"}, http.StatusBadRequest},
		{"bad amount", "/api/v1/vault/deposits", gin.H{"strike_index": 0, "amount": "ten"}, http.StatusBadRequest},
		{"index out of range", "/api/v1/vault/deposits", gin.H{"strike_index": 9, "amount": "1"}, http.StatusUnprocessableEntity},
		{"zero amount", "/api/v1/vault/deposits", gin.H{"strike_index": 0, "amount": "0"}, http.StatusUnprocessableEntity},
		{"bad recipient", "/api/v1/vault/options/transfer", gin.H{"epoch": 1, "strike_index": 0, "to": "bob", "amount": "1"}, http.StatusBadRequest},
		{"bad beneficiary", "/api/v1/vault/exercises", gin.H{"epoch": 1, "strike_index": 0, "amount": "1", "beneficiary": "0x12"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tc.path, &alice, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestVaultHandler_Queries(t *testing.T) {
	r := newRouter(t)
	bootstrap(t, r)

	w := do(r, http.MethodGet, "/api/v1/vault/info", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, float64(1), info["current_epoch"])
	assert.Equal(t, "DPX", info["asset"])

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	ep := decode(t, w)
	assert.Equal(t, true, ep["bootstrapped"])
	assert.Len(t, ep["strikes"], 3)

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/9", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/1/positions/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["positions"], 1)

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/1/options/0?holder="+vaultAcct.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tok := decode(t, w)
	assert.Equal(t, "DPX-CALL8000000000-EPOCH-1", tok["symbol"])
	assert.Equal(t, "10", tok["balance"])

	w = do(r, http.MethodGet, "/api/v1/vault/epochs/1/options/3", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodGet, "/api/v1/vault/price", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", decode(t, w)["price"])

	ts := time.Date(2026, time.March, 28, 0, 0, 0, 0, time.UTC).Unix()
	w = do(r, http.MethodGet, fmt.Sprintf("/api/v1/vault/expiry?ts=%d", ts), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	want := time.Date(2026, time.April, 24, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, float64(want.Unix()), decode(t, w)["expiry_unix"])
}

func TestVaultHandler_Reserve(t *testing.T) {
	r := newRouter(t)
	bob := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	w := do(r, http.MethodPost, "/api/v1/vault/strikes", &owner, gin.H{"strikes": []string{"80", "0", "0", "0"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/vault/reserve/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct := decode(t, w)
	assert.Equal(t, "500", acct["balance"])
	assert.Equal(t, "500", acct["allowance"])

	w = do(r, http.MethodGet, "/api/v1/vault/reserve/bob", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", nil, gin.H{"amount": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", &alice, gin.H{"amount": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", &alice, gin.H{"amount": "-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_amount", decode(t, w)["kind"])

	// 授权用尽后重新授权即可继续存款
	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", &alice, gin.H{"amount": "0"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ApprovalEventType, events[0].(map[string]any)["type"])

	w = do(r, http.MethodPost, "/api/v1/vault/deposits", &alice, gin.H{"strike_index": 0, "amount": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_allowance", decode(t, w)["kind"])

	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", &alice, gin.H{"amount": "1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/v1/vault/deposits", &alice, gin.H{"strike_index": 0, "amount": "1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/vault/reserve/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct = decode(t, w)
	assert.Equal(t, "499", acct["balance"])
	assert.Equal(t, "0", acct["allowance"])

	// 创世配置之外的地址同样可以授权
	w = do(r, http.MethodPost, "/api/v1/vault/reserve/approve", &bob, gin.H{"amount": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodGet, "/api/v1/vault/reserve/"+bob.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct = decode(t, w)
	assert.Equal(t, "0", acct["balance"])
	assert.Equal(t, "5", acct["allowance"])
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		domain.ErrUnauthorized:                                   http.StatusForbidden,
		domain.ErrTooEarly:                                       http.StatusConflict,
		domain.ErrReentrantCall:                                  http.StatusConflict,
		domain.ErrNotInTheMoney:                                  http.StatusUnprocessableEntity,
		domain.ErrInsufficientAllowance:                          http.StatusUnprocessableEntity,
		domain.ErrStalePrice:                                     http.StatusServiceUnavailable,
		fmt.Errorf("epoch 3: %w", application.ErrNotFound):       http.StatusNotFound,
		errors.New("connection reset"):                           http.StatusInternalServerError,
		fmt.Errorf("wrapped: %w", domain.ErrInsufficientDeposit): http.StatusUnprocessableEntity,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusOf(err), err.Error())
	}
}
