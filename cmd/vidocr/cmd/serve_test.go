package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/config"
	"github.com/MeKo-Tech/vidocr/internal/server"
)

func TestServerConfig(t *testing.T) {
	got := serverConfig(config.ServerConfig{
		CORSOrigin:        "https://example.com",
		MaxUploadMB:       64,
		RequestsPerMinute: 30,
		MaxUploadPerDayMB: 2,
	})

	assert.Equal(t, server.Config{
		CORSOrigin:  "https://example.com",
		MaxUploadMB: 64,
		RateLimit:   server.RateLimitConfig{RequestsPerMinute: 30, MaxUploadPerDay: 2 * 1024 * 1024},
	}, got)
	assert.True(t, got.RateLimit.Enabled())
	assert.False(t, serverConfig(config.ServerConfig{}).RateLimit.Enabled())
}

func TestApplyServeFlags(t *testing.T) {
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })
	require.NoError(t, serveCmd.Flags().Parse([]string{"--port", "9090", "--requests-per-minute", "12"}))

	sc := config.DefaultConfig().Server
	applyServeFlags(serveCmd, &sc)

	assert.Equal(t, 9090, sc.Port)
	assert.Equal(t, 12, sc.RequestsPerMinute)
	assert.Equal(t, "localhost", sc.Host, "unchanged flags keep the configured value")
	assert.Equal(t, 512, sc.MaxUploadMB)
}

func TestServeRejectsInvalidPort(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, ws.args("serve", "--port", "70000")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number")
}
