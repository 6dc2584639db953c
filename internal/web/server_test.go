package web

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

func TestServer_NewServer(t *testing.T) {
	server := NewServer(&config.WebConfig{Enabled: true}, logger.NewNopLogger())
	require.NotNil(t, server)
	assert.Equal(t, "web-server", server.Name())
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, logger.NewNopLogger())

	require.NoError(t, server.Start(context.Background()))
	require.NotEmpty(t, server.Addr())

	resp, err := http.Get("http://" + server.Addr() + "/api/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
}

func TestServer_Start_Disabled(t *testing.T) {
	server := NewServer(&config.WebConfig{Enabled: false}, logger.NewNopLogger())

	require.NoError(t, server.Start(context.Background()))
	assert.Nil(t, server.httpServer)
	assert.NoError(t, server.Stop(context.Background()))
}

func TestServer_Start_PortInUse(t *testing.T) {
	first := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: 0}, logger.NewNopLogger())
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	_, port := splitPort(t, first.Addr())
	second := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: port}, logger.NewNopLogger())
	assert.Error(t, second.Start(context.Background()))
}
