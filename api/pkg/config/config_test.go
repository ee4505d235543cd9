package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.WebServer.Host)
	assert.Equal(t, 3000, cfg.WebServer.Port)
	assert.False(t, cfg.WebServer.UseHTTPS)

	assert.Equal(t, 10, cfg.Sessions.Max)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout())
	assert.Equal(t, time.Hour, cfg.Sessions.MaxLifetime())
	assert.Equal(t, time.Minute, cfg.Sessions.GCInterval())
	assert.Equal(t, 1280, cfg.Sessions.ViewportWidth)
	assert.Equal(t, 720, cfg.Sessions.ViewportHeight)

	assert.Equal(t, 60, cfg.Browser.ScreencastQuality)
	assert.Equal(t, 1, cfg.Browser.ScreencastNth)

	assert.Equal(t, 99, cfg.Display.Number)
	assert.Equal(t, 5*time.Second, cfg.Display.StartupTimeout())

	assert.Equal(t, 30*time.Second, cfg.Commands.Timeout())
	assert.Equal(t, "off", cfg.Commands.DelayMode)
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_SESSIONS", "3")
	t.Setenv("SESSION_IDLE_TIMEOUT", "1000")
	t.Setenv("COMMAND_DELAY_MODE", "natural")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.WebServer.Port)
	assert.Equal(t, 3, cfg.Sessions.Max)
	assert.Equal(t, time.Second, cfg.Sessions.IdleTimeout())
	assert.Equal(t, "natural", cfg.Commands.DelayMode)
}
