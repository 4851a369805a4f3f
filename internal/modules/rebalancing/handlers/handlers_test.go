package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultpilot/allocator/internal/modules/allocation"
	"github.com/vaultpilot/allocator/internal/modules/history"
	"github.com/vaultpilot/allocator/internal/modules/rebalancing"
	testingutil "github.com/vaultpilot/allocator/internal/testing"
)

const scenarioRequest = `{
	"requestType": "rebalance",
	"timestamp": "2024-05-01T10:00:00Z",
	"tiers": [
		{"tier": 1, "name": "Low Risk", "strategies": [
			{"index": 0, "address": "0xa", "name": "Aave", "currentAPY": 4.0, "currentAllocation": 50,
			 "totalAssets": 1000000, "historical": {"avgAPY": 4.5, "volatility": 0.2, "sharpe": 1.1}},
			{"index": 1, "address": "0xb", "name": "Compound", "currentAPY": "3.0", "currentAllocation": 50,
			 "historical": {"avgAPY": 3.5}}
		]},
		{"tier": 2, "name": "Medium Risk", "strategies": []}
	]
}`

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := testingutil.NewTestDB(t, "history")
	repo := history.NewRepository(db.Conn(), log)
	service := rebalancing.NewService(allocation.DefaultPolicy(), repo, nil, nil, log)
	handler := NewHandler(service, log)

	r := chi.NewRouter()
	handler.RegisterLegacyRoutes(r)
	r.Route("/api", handler.RegisterRoutes)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestHandleReallocate_LegacyWireShape(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodPost, "/reallocate", `{"base_apy": `+scenarioRequest+`}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.NotContains(t, result, "data", "legacy endpoint returns the bare result")
	assert.Equal(t, "rebalance", result["requestType"])
	assert.Equal(t, "2024-05-01T10:00:00Z", result["timestamp"])

	tiers := result["tiers"].([]interface{})
	require.Len(t, tiers, 2)

	low := tiers[0].(map[string]interface{})
	strategies := low["strategies"].([]interface{})
	first := strategies[0].(map[string]interface{})
	assert.Equal(t, 52.5, first["newAllocation"])
	assert.Equal(t, 2.5, first["allocationChange"])
	assert.Equal(t, allocation.ReasonNeutral, first["reason"])
	assert.Equal(t, 1000000.0, first["totalAssets"])
	assert.Equal(t, 1.1, first["historical"].(map[string]interface{})["sharpe"])

	medium := tiers[1].(map[string]interface{})
	assert.Equal(t, []interface{}{}, medium["strategies"])
}

func TestHandleReallocate_Errors(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodPost, "/reallocate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/reallocate", `{"tiers": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var response map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "missing_field", response["error"]["code"])
}

func TestHandleCalculate_EnvelopeAndRunLookup(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodPost, "/api/rebalancing/calculate", scenarioRequest)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data     map[string]interface{} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	runID, ok := response.Metadata["run_id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, runID)
	assert.Contains(t, response.Metadata, "timestamp")
	assert.NotContains(t, response.Metadata, "warnings")

	rec = do(r, http.MethodGet, "/api/rebalancing/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)

	rec = do(r, http.MethodGet, "/api/rebalancing/runs/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)

	rec = do(r, http.MethodGet, "/api/rebalancing/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestHandleCalculate_ReportsWarnings(t *testing.T) {
	r := setupRouter(t)

	body := `{"tiers":[{"name":"dup","strategies":[
		{"address":"0x1","currentAPY":4,"currentAllocation":50},
		{"address":"0x1","currentAPY":4,"currentAllocation":50}
	]}]}`
	rec := do(r, http.MethodPost, "/api/rebalancing/calculate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Metadata struct {
			Warnings []string `json:"warnings"`
		} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.Len(t, response.Metadata.Warnings, 1)
	assert.Contains(t, response.Metadata.Warnings[0], "repeats address 0x1")
}

func TestHandleGetRun_NotFound(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodGet, "/api/rebalancing/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/api/rebalancing/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListRuns_BadLimit(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodGet, "/api/rebalancing/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSimulate(t *testing.T) {
	r := setupRouter(t)

	rec := do(r, http.MethodPost, "/api/rebalancing/simulate?cycles=5", scenarioRequest)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data rebalancing.Simulation `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.Len(t, response.Data.Cycles, 5)
	assert.Equal(t, 2.5, response.Data.Cycles[0].MaxAbsChange)

	// Simulations are not persisted.
	rec = do(r, http.MethodGet, "/api/rebalancing/runs", "")
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestHandleSimulate_InvalidCycles(t *testing.T) {
	r := setupRouter(t)

	for _, q := range []string{"cycles=abc", "cycles=0", "cycles=101"} {
		rec := do(r, http.MethodPost, "/api/rebalancing/simulate?"+q, scenarioRequest)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandleCalculate_BodyTooLarge(t *testing.T) {
	r := setupRouter(t)

	huge := `{"tiers":[{"name":"` + strings.Repeat("x", maxBodyBytes+1) + `"}]}`
	rec := do(r, http.MethodPost, "/api/rebalancing/calculate", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
