package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/metrics"
	"github.com/meridianhq/tradecore/internal/state"
	"github.com/meridianhq/tradecore/internal/witness"
)

func TestHealthEndpoint(t *testing.T) {
	machine := state.NewMachine(nil, nil)
	require.NoError(t, machine.Transition(context.Background(), domain.Observing, "boot", "test", uuid.New()))

	panel := witness.NewPanel(time.Second, nil)

	s := NewServer(":0", Deps{Machine: machine, Panel: panel})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload struct {
		Status     string         `json:"status"`
		State      string         `json:"state"`
		InCooldown bool           `json:"in_cooldown"`
		Witnesses  map[string]int `json:"witnesses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, "observing", payload.State)
	assert.False(t, payload.InCooldown)
	assert.Equal(t, 0, payload.Witnesses["tier_1"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	m.InvalidClaims.Inc()

	s := NewServer(":0", Deps{Gatherer: reg})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradecore_invalid_claims_total 1")
}

func TestHistoryEndpointEmpty(t *testing.T) {
	s := NewServer(":0", Deps{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}
