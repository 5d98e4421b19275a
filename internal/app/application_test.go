package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"majlis/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MAJLIS_DATABASE_PATH", filepath.Join(t.TempDir(), "app.db"))
	t.Setenv("MAJLIS_HOST", "127.0.0.1")
	t.Setenv("MAJLIS_PORT", fmt.Sprintf("%d", freePort(t)))
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = -1

	application, err := NewApplication(cfg)

	require.Error(t, err)
	require.Nil(t, application)
}

func TestApplicationLifecycle(t *testing.T) {
	// Given a fully wired application
	cfg := testConfig(t)
	application, err := NewApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// When started
	require.NoError(t, application.Start(ctx))

	// Then the health endpoint answers
	resp, err := http.Get("http://" + application.Addr() + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// And shutdown completes cleanly
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, application.Stop(shutdownCtx))
}
