package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/guardrail/internal/auth"
	"github.com/web3guy0/guardrail/internal/broker"
	"github.com/web3guy0/guardrail/internal/execution"
	"github.com/web3guy0/guardrail/internal/feedback"
	"github.com/web3guy0/guardrail/internal/journal"
	"github.com/web3guy0/guardrail/internal/risk"
	"github.com/web3guy0/guardrail/internal/settings"
	"github.com/web3guy0/guardrail/internal/storage"
	"github.com/web3guy0/guardrail/internal/types"
)

type apiRig struct {
	ts    *httptest.Server
	store *storage.Store
	token string
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	store, err := storage.OpenForTest()
	require.NoError(t, err)

	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(&types.User{
		ID: "u1", Email: "u1@example.com", PasswordHash: hash,
	}))

	svc := settings.New(store)
	monitor := risk.NewMonitor(store, decimal.NewFromInt(10000))
	validator := risk.NewValidator(store, svc, monitor)
	jw := journal.NewWriter(store)
	engine := execution.NewEngine(store, svc, monitor, jw, execution.DefaultConfig())
	simCfg := broker.DefaultSimConfig()
	simCfg.Latency = 0
	simCfg.FillProbability = 1.0
	engine.RegisterAdapter(broker.NewSimulationAdapter(store, simCfg))
	svc.SetModeGuard(engine)
	analyzer := journal.NewAnalyzer(store)
	loop := feedback.New(store, analyzer, monitor, svc, 0, 0)

	authSvc := auth.New(store, "test-secret", 15*time.Minute, time.Hour, auth.NewMemoryBlacklist())
	srv := New(authSvc, auth.NewMemoryRateLimiter(), svc, validator, monitor, engine, analyzer, loop, store)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	rig := &apiRig{ts: ts, store: store}
	status, body := rig.post(t, "", "/auth/login", map[string]any{
		"email": "u1@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, status)
	rig.token = body["access_token"].(string)
	return rig
}

func (r *apiRig) do(t *testing.T, method, token, path string, payload any) (int, map[string]any) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, r.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (r *apiRig) get(t *testing.T, token, path string) (int, map[string]any) {
	return r.do(t, http.MethodGet, token, path, nil)
}

func (r *apiRig) post(t *testing.T, token, path string, payload any) (int, map[string]any) {
	return r.do(t, http.MethodPost, token, path, payload)
}

func errCode(body map[string]any) string {
	env, _ := body["error"].(map[string]any)
	code, _ := env["code"].(string)
	return code
}

func TestAuthGateRejectsMissingAndBadTokens(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.get(t, "", "/settings")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errCode(body))

	status, body = rig.get(t, "not-a-token", "/settings")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errCode(body))
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.get(t, rig.token, "/settings")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "guide", body["mode"])
	assert.Equal(t, "simulation", body["exec_mode"])
	assert.Equal(t, float64(1), body["version"])
}

func TestUpdateSettingsRejectsUnknownFields(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.do(t, http.MethodPut, rig.token, "/settings", map[string]any{
		"patch":  map[string]any{"max_risk_per_trade_pct": "1.0", "definitely_not_a_field": 7},
		"reason": "typo test",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", errCode(body))
}

func TestUpdateSettingsBumpsVersionAndAudits(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.do(t, http.MethodPut, rig.token, "/settings", map[string]any{
		"patch":  map[string]any{"max_trades_per_day": 10},
		"reason": "tighter cap",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["version"])

	status, body = rig.get(t, rig.token, "/settings/audit?limit=10")
	require.Equal(t, http.StatusOK, status)
	rows := body["audit"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, float64(2), row["version"])
	assert.Equal(t, "tighter cap", row["reason"])
}

func TestUpdateSettingsOverHardCapRejected(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.do(t, http.MethodPut, rig.token, "/settings", map[string]any{
		"patch":  map[string]any{"max_risk_per_trade_pct": "3.0"},
		"reason": "greed",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "settings_out_of_bounds", errCode(body))
}

func TestValidateThenExecuteFlow(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.post(t, rig.token, "/risk/validate", map[string]any{
		"signal": map[string]any{
			"strategy_name": "stub",
			"symbol":        "EURUSD",
			"side":          "long",
			"entry":         "1.1000",
			"stop_loss":     "1.0950",
			"take_profit":   "1.1150",
			"risk_pct":      "1.0",
		},
		"size": "1.0",
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["approved"])
	signalID := body["signal_id"].(string)
	checks := body["checks"].(map[string]any)
	assert.Len(t, checks["passed"].([]any), 9)

	status, body = rig.post(t, rig.token, "/execution/execute", map[string]any{
		"signal_id": signalID,
		"size":      "1.0",
	})
	require.Equal(t, http.StatusCreated, status)
	order := body["order"].(map[string]any)
	assert.Equal(t, "filled", order["status"])

	// The filled order shows up with its log.
	status, body = rig.get(t, rig.token, "/execution/orders/"+order["id"].(string))
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["log"].([]any))
}

func TestValidateRejectionCarriesReasonCode(t *testing.T) {
	rig := newAPIRig(t)

	// RR 1.0 sits under the 1.5 floor.
	status, body := rig.post(t, rig.token, "/risk/validate", map[string]any{
		"signal": map[string]any{
			"strategy_name": "stub",
			"symbol":        "EURUSD",
			"side":          "long",
			"entry":         "1.1000",
			"stop_loss":     "1.0950",
			"take_profit":   "1.1050",
			"risk_pct":      "1.0",
		},
		"size": "1.0",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["approved"])
	assert.Equal(t, "rr_too_low", body["reason_code"])
}

func TestExecuteUnknownSignalIs404(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.post(t, rig.token, "/execution/execute", map[string]any{
		"signal_id": "missing", "size": "1.0",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errCode(body))
}

func TestLiveExecModeRequiresConfirmationAndPassword(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.post(t, rig.token, "/execution-mode", map[string]any{
		"mode": "live", "password": "hunter22", "reason": "go live",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "exec_live_unconfirmed", errCode(body))

	status, body = rig.post(t, rig.token, "/execution-mode", map[string]any{
		"mode": "live", "password": "wrong", "reason": "go live", "confirmed": true,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_password", errCode(body))

	status, body = rig.post(t, rig.token, "/execution-mode", map[string]any{
		"mode": "live", "password": "hunter22", "reason": "go live", "confirmed": true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "live", body["exec_mode"])
}

func TestEmergencyResetEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	require.NoError(t, rig.store.SaveAccountRiskState(&types.AccountRiskState{
		UserID:            "u1",
		Balance:           decimal.NewFromInt(10000),
		EmergencyShutdown: true,
		DailyPnLResetAt:   time.Now().UTC(),
	}))

	status, body := rig.post(t, rig.token, "/risk/emergency/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["emergency_shutdown"])
}

func TestLoginRateLimitKicksIn(t *testing.T) {
	rig := newAPIRig(t)

	// Setup already spent one login; the window allows 10 in total.
	var status int
	var body map[string]any
	for i := 0; i < 9; i++ {
		status, _ = rig.post(t, "", "/auth/login", map[string]any{
			"email": "u1@example.com", "password": "hunter22",
		})
		require.Equal(t, http.StatusOK, status)
	}
	status, body = rig.post(t, "", "/auth/login", map[string]any{
		"email": "u1@example.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errCode(body))
}

func TestLogoutRevokesToken(t *testing.T) {
	rig := newAPIRig(t)

	status, _ := rig.post(t, rig.token, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := rig.get(t, rig.token, "/settings")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errCode(body))
}

func TestJournalStatsRequiresScope(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.get(t, rig.token, "/journal/stats")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", errCode(body))

	status, body = rig.get(t, rig.token, "/journal/stats?strategy=stub&symbol=EURUSD")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["sample_size"])
}

func TestFeedbackEndpointRecordsDecision(t *testing.T) {
	rig := newAPIRig(t)

	status, body := rig.post(t, rig.token, "/journal/feedback/stub/EURUSD", nil)
	require.Equal(t, http.StatusOK, status)
	decision := body["decision"].(map[string]any)
	assert.Equal(t, "monitor", decision["action"])
	assert.Equal(t, "insufficient sample", decision["reason"])
}
