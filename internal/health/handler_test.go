package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/config"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/positions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyWithoutDatabase(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, time.Now().Add(-time.Minute), ":8080")
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Database.Configured)
	assert.GreaterOrEqual(t, body.UptimeSec, int64(59))
}

func TestFullReportsCoreCounts(t *testing.T) {
	reg := accounts.NewRegistry(config.DefaultRisk(), nil, nil)
	_, err := reg.Open(context.Background(), accounts.OpenRequest{ID: "a"})
	require.NoError(t, err)
	_, err = reg.Open(context.Background(), accounts.OpenRequest{ID: "b"})
	require.NoError(t, err)

	h := NewHandler(nil, reg, positions.NewBook(), marketdata.NewPriceCache(nil), time.Time{}, ":8080")
	rec := httptest.NewRecorder()
	h.Full(rec, httptest.NewRequest(http.MethodGet, "/health/full", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body fullResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Core.Accounts)
	assert.Zero(t, body.Core.AccountsExposed)
	assert.Equal(t, ":8080", body.HTTPAddr)
}
