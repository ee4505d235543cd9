// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig is the full configuration of the service. Timeouts that are
// externally specified in milliseconds are kept as integer millisecond
// fields with duration accessors, so the recognized variable names stay
// stable.
type ServerConfig struct {
	WebServer WebServer
	Sessions  Sessions
	Browser   Browser
	Display   Display
	Commands  Commands
}

type WebServer struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"PORT" default:"3000"`
	UseHTTPS bool   `envconfig:"USE_HTTPS" default:"false"`
}

type Sessions struct {
	Max            int   `envconfig:"MAX_SESSIONS" default:"10"`
	IdleTimeoutMS  int64 `envconfig:"SESSION_IDLE_TIMEOUT" default:"300000"`
	MaxLifetimeMS  int64 `envconfig:"SESSION_MAX_LIFETIME" default:"3600000"`
	GCIntervalMS   int64 `envconfig:"SESSION_GC_INTERVAL" default:"60000"`
	ViewportWidth  int   `envconfig:"VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int   `envconfig:"VIEWPORT_HEIGHT" default:"720"`
}

func (s Sessions) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Sessions) MaxLifetime() time.Duration {
	return time.Duration(s.MaxLifetimeMS) * time.Millisecond
}

func (s Sessions) GCInterval() time.Duration {
	return time.Duration(s.GCIntervalMS) * time.Millisecond
}

type Browser struct {
	Headless bool `envconfig:"HEADLESS" default:"false"`
	// Screencast tuning.
	ScreencastQuality int `envconfig:"SCREENCAST_QUALITY" default:"60"`
	ScreencastNth     int `envconfig:"SCREENCAST_EVERY_NTH_FRAME" default:"1"`
}

type Display struct {
	// Display number used when a virtual framebuffer has to be spawned.
	Number           int   `envconfig:"VIRTUAL_DISPLAY_NUMBER" default:"99"`
	StartupTimeoutMS int64 `envconfig:"VIRTUAL_DISPLAY_TIMEOUT" default:"5000"`
}

func (d Display) StartupTimeout() time.Duration {
	return time.Duration(d.StartupTimeoutMS) * time.Millisecond
}

type Commands struct {
	TimeoutMS int64 `envconfig:"COMMAND_TIMEOUT" default:"30000"`
	// DelayMode enables bounded random inter-operation delays: one of
	// "off", "natural", "careful".
	DelayMode string `envconfig:"COMMAND_DELAY_MODE" default:"off"`
}

func (c Commands) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LoadServerConfig reads the configuration from the process environment.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}
