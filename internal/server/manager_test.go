package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestStartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	m := NewManager(handler, testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	// the listener address is only known after Start with port 0; hit it
	// through the stored listener
	m.mu.RLock()
	addr := m.listener.Addr().String()
	m.mu.RUnlock()

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestDoubleStartFails(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestShutdownIdempotent(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}
