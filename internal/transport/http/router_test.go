package httptransport

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keyledger/backend/internal/config"
	"keyledger/backend/internal/domain"
	"keyledger/backend/internal/health"
	"keyledger/backend/internal/middleware"
	"keyledger/backend/internal/monitoring"
	"keyledger/backend/internal/service"
	"keyledger/backend/internal/storage/memory"
)

const testMasterKey = "mk-test-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	ledger   *service.Ledger
	registry *service.MasterKeyRegistry
	store    *memory.Store
}

type envelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestEnv(t *testing.T, limiter *middleware.IPRateLimiter) *testEnv {
	t.Helper()

	store := memory.NewStoreWithMasterKeys(testMasterKey)
	registry := service.NewMasterKeyRegistry(store, service.MasterKeyOptions{}, zap.NewNop())
	registry.Load()

	ledger, err := service.NewLedger(store, zap.NewNop())
	require.NoError(t, err)

	cfg := &config.Config{
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		BodyLimit: 1 << 20,
	}

	router := NewRouter(RouterDependencies{
		Config:        cfg,
		Ledger:        ledger,
		Registry:      registry,
		HealthChecker: health.NewHealthChecker(ledger, registry, zap.NewNop()),
		Metrics:       monitoring.NewMetrics(prometheus.NewRegistry()),
		RateLimiter:   limiter,
		Logger:        zap.NewNop(),
	})

	return &testEnv{router: router, ledger: ledger, registry: registry, store: store}
}

func (e *testEnv) post(t *testing.T, path string, body any, headers ...string) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (e *testEnv) createKey(t *testing.T, balance any) string {
	t.Helper()
	status, env := e.post(t, "/api/create_key", map[string]any{"master_key": testMasterKey, "balance": balance})
	require.Equal(t, http.StatusOK, status, env.Msg)

	var data struct {
		SubKey string `json:"sub_key"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.SubKey
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestDeductRefundFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 10.00)

	status, env := e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": 3.33})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"new_balance": 6.67, "action": "deduct"}`, string(env.Data))

	status, env = e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": "6.67"})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"new_balance": 0.00, "action": "deduct"}`, string(env.Data))

	status, env = e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": 0.01})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, string(ErrCodeInsufficientBalance), env.Error)
	assert.False(t, env.Success)

	status, env = e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": -2})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"new_balance": 2.00, "action": "refund"}`, string(env.Data))

	status, env = e.post(t, "/api/get_balance", map[string]any{"sub_key": subKey})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"balance": 2.00}`, string(env.Data))
}

func TestValidateAndDeduct_Defaults(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 5)

	status, env := e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"new_balance": 4.00, "action": "deduct"}`, string(env.Data))
}

func TestValidateAndDeduct_Errors(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 5)

	tests := []struct {
		name   string
		body   any
		status int
		code   ErrorCode
	}{
		{"缺少子密钥", map[string]any{"amount": 1}, http.StatusBadRequest, ErrCodeMissingParams},
		{"非数字金额", map[string]any{"sub_key": subKey, "amount": "abc"}, http.StatusBadRequest, ErrCodeInvalidParams},
		{"布尔金额", map[string]any{"sub_key": subKey, "amount": true}, http.StatusBadRequest, ErrCodeInvalidParams},
		{"未知子密钥", map[string]any{"sub_key": "nope", "amount": 1}, http.StatusNotFound, ErrCodeInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := e.post(t, "/api/validate_and_deduct", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, string(tt.code), env.Error)
		})
	}
}

func TestValidateAndDeduct_OutOfRangeAmount(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 10)

	tests := []struct {
		name   string
		amount any
	}{
		{"巨额退款", json.Number("-1e20")},
		{"巨大指数", json.Number("1e10000000")},
		{"极小指数", json.Number("1e-10000000")},
		{"字符串巨额退款", "-1e20"},
		{"退款后余额越界", json.Number("-999999999999999999")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			status, env := e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": tt.amount})
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, string(ErrCodeInvalidParams), env.Error)
			assert.False(t, env.Success)

			status, env = e.post(t, "/api/get_balance", map[string]any{"sub_key": subKey})
			require.Equal(t, http.StatusOK, status)
			assert.JSONEq(t, `{"balance": 10.00}`, string(env.Data))
		})
	}

	t.Run("连续退款累积越界", func(t *testing.T) {
		status, _ := e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": json.Number("-600000000000000000")})
		require.Equal(t, http.StatusOK, status)

		status, env := e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey, "amount": json.Number("-600000000000000000")})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(ErrCodeInvalidParams), env.Error)

		status, env = e.post(t, "/api/get_balance", map[string]any{"sub_key": subKey})
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"balance": 600000000000000010.00}`, string(env.Data))
	})
}

func TestInactiveKeyIsIndistinguishableFromMissing(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 5)

	status, _ := e.post(t, "/api/deactivate_key", map[string]any{"sub_key": subKey}, middleware.HeaderMasterKey, testMasterKey)
	require.Equal(t, http.StatusOK, status)

	statusInactive, inactive := e.post(t, "/api/get_balance", map[string]any{"sub_key": subKey})
	statusMissing, missing := e.post(t, "/api/get_balance", map[string]any{"sub_key": "does-not-exist"})

	assert.Equal(t, http.StatusNotFound, statusInactive)
	assert.Equal(t, statusMissing, statusInactive)
	assert.Equal(t, missing.Error, inactive.Error)
	assert.Equal(t, missing.Msg, inactive.Msg)
	assert.Equal(t, string(ErrCodeNotFoundOrInactive), inactive.Error)

	status, _ = e.post(t, "/api/activate_key", map[string]any{"sub_key": subKey}, middleware.HeaderMasterKey, testMasterKey)
	require.Equal(t, http.StatusOK, status)
	status, _ = e.post(t, "/api/get_balance", map[string]any{"sub_key": subKey})
	assert.Equal(t, http.StatusOK, status)
}

func TestListKeys_WrongMasterKey(t *testing.T) {
	e := newTestEnv(t, nil)
	for i := 0; i < 5; i++ {
		e.createKey(t, 1)
	}

	status, env := e.post(t, "/api/list_keys", map[string]any{"master_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(ErrCodeAuthFailed), env.Error)
	assert.Empty(t, env.Data)

	status, env = e.post(t, "/api/list_keys", nil, middleware.HeaderMasterKey, testMasterKey)
	require.Equal(t, http.StatusOK, status)
	data := decodeData[struct {
		Keys  map[string]domain.SubKey `json:"keys"`
		Total int                      `json:"total"`
	}](t, env)
	assert.Equal(t, 5, data.Total)
	assert.Len(t, data.Keys, 5)
}

func TestAdminOperationsRequireMasterKey(t *testing.T) {
	e := newTestEnv(t, nil)

	for _, path := range []string{
		"/api/create_key",
		"/api/list_keys",
		"/api/update_balance",
		"/api/delete_key",
		"/api/activate_key",
		"/api/deactivate_key",
		"/api/master_keys/list",
		"/api/master_keys/add",
		"/api/master_keys/remove",
	} {
		status, env := e.post(t, path, map[string]any{"master_key": "wrong", "sub_key": "x"})
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, string(ErrCodeAuthFailed), env.Error, path)
	}
	assert.Zero(t, e.ledger.Count())
}

func TestCreateKey(t *testing.T) {
	e := newTestEnv(t, nil)

	t.Run("默认余额", func(t *testing.T) {
		status, env := e.post(t, "/api/create_key", nil, middleware.HeaderMasterKey, testMasterKey)
		require.Equal(t, http.StatusOK, status)
		data := decodeData[struct {
			SubKey  string      `json:"sub_key"`
			Balance json.Number `json:"balance"`
		}](t, env)
		assert.Len(t, data.SubKey, 32)
		assert.Equal(t, "100.00", data.Balance.String())
	})

	t.Run("负余额被拒绝", func(t *testing.T) {
		status, env := e.post(t, "/api/create_key", map[string]any{"master_key": testMasterKey, "balance": -1})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, string(ErrCodeInvalidParams), env.Error)
	})

	t.Run("余额四舍五入", func(t *testing.T) {
		subKey := e.createKey(t, "2.675")
		balance, err := e.ledger.GetBalance(subKey)
		require.NoError(t, err)
		assert.Equal(t, "2.68", balance.String())
	})
}

func TestUpdateBalance(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 10)

	status, env := e.post(t, "/api/update_balance", map[string]any{"master_key": testMasterKey, "sub_key": subKey})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(ErrCodeMissingParams), env.Error)

	status, env = e.post(t, "/api/update_balance", map[string]any{"master_key": testMasterKey, "sub_key": "nope", "new_balance": 1})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(ErrCodeUpdateFailed), env.Error)

	status, env = e.post(t, "/api/update_balance", map[string]any{"master_key": testMasterKey, "sub_key": subKey, "new_balance": 55.555})
	require.Equal(t, http.StatusOK, status)
	data := decodeData[struct {
		NewBalance json.Number `json:"new_balance"`
	}](t, env)
	assert.Equal(t, "55.56", data.NewBalance.String())
}

func TestDeleteKey(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 10)

	status, _ := e.post(t, "/api/delete_key", map[string]any{"master_key": testMasterKey, "sub_key": subKey})
	require.Equal(t, http.StatusOK, status)

	status, env := e.post(t, "/api/delete_key", map[string]any{"master_key": testMasterKey, "sub_key": subKey})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(ErrCodeDeleteFailed), env.Error)

	status, env = e.post(t, "/api/validate_and_deduct", map[string]any{"sub_key": subKey})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(ErrCodeInvalidKey), env.Error)
}

func TestMasterKeyManagement(t *testing.T) {
	e := newTestEnv(t, nil)
	auth := []string{middleware.HeaderMasterKey, testMasterKey}

	status, env := e.post(t, "/api/master_keys/list", nil, auth...)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"total_keys": 1, "keys_count": 1}`, string(env.Data))

	status, env = e.post(t, "/api/master_keys/remove", map[string]any{"target_master_key": testMasterKey}, auth...)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, MsgLastMasterKey, env.Msg)

	status, _ = e.post(t, "/api/master_keys/add", map[string]any{"new_master_key": "mk-second"}, auth...)
	require.Equal(t, http.StatusOK, status)

	status, env = e.post(t, "/api/master_keys/add", map[string]any{"new_master_key": "mk-second"}, auth...)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(ErrCodeMasterKeyExists), env.Error)

	status, env = e.post(t, "/api/master_keys/add", map[string]any{"new_master_key": domain.PlaceholderMasterKey}, auth...)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(ErrCodeInvalidParams), env.Error)

	status, env = e.post(t, "/api/master_keys/remove", map[string]any{"target_master_key": "mk-unknown"}, auth...)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(ErrCodeMasterKeyNotFound), env.Error)

	// 新主密钥可以直接使用
	status, _ = e.post(t, "/api/master_keys/remove", map[string]any{"target_master_key": testMasterKey}, middleware.HeaderMasterKey, "mk-second")
	require.Equal(t, http.StatusOK, status)
	assert.False(t, e.registry.Validate(testMasterKey))

	persisted, err := e.store.LoadMasterKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"mk-second"}, persisted)
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	e.createKey(t, 1)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data := decodeData[map[string]any](t, env)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, float64(1), data["total_keys"])
	assert.Equal(t, float64(1), data["master_keys_count"])
	assert.NotEmpty(t, data["timestamp"])

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestClientRoutesRateLimited(t *testing.T) {
	limiter := middleware.NewIPRateLimiter(0.001, 1, nil, zap.NewNop())
	e := newTestEnv(t, limiter)

	status, _ := e.post(t, "/api/get_balance", map[string]any{"sub_key": "x"})
	assert.Equal(t, http.StatusNotFound, status)

	status, env := e.post(t, "/api/get_balance", map[string]any{"sub_key": "x"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, string(ErrCodeRateLimited), env.Error)

	// 管理接口不受客户端限流影响
	status, _ = e.post(t, "/api/master_keys/list", nil, middleware.HeaderMasterKey, testMasterKey)
	assert.Equal(t, http.StatusOK, status)
}

func TestConcurrentDeductsThroughHTTP(t *testing.T) {
	e := newTestEnv(t, nil)
	subKey := e.createKey(t, 1)

	var wg sync.WaitGroup
	codes := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]any{"sub_key": subKey, "amount": 0.05})
			req := httptest.NewRequest(http.MethodPost, "/api/validate_and_deduct", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			e.router.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	ok := 0
	for code := range codes {
		if code == http.StatusOK {
			ok++
		}
	}
	assert.Equal(t, 20, ok)

	balance, err := e.ledger.GetBalance(subKey)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, MsgInsufficientBalance, GetErrorMessage(service.ErrInsufficientBalance))
	assert.Equal(t, MsgPersistFailed, GetErrorMessage(errors.Join(service.ErrPersistFailed, errors.New("disk"))))
	assert.Equal(t, "boom", GetErrorMessage(errors.New("boom")))
}
