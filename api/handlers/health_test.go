package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHandleReadyAllPassing(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error { return nil }))
	h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "pass", status.Checks["database"].Status)
	assert.Equal(t, "pass", status.Checks["redis"].Status)
}

func TestHandleReadyFailingCheck(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error { return nil }))
	h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	h.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "pass", status.Checks["database"].Status)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleVersion("1.2.3", "2026-08-01", "abc123")(rec,
		httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}
