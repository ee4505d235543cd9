package session

import (
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog/log"
)

// browserFlags is the fixed launch argument set, after Puppeteer's and
// Playwright's default behavior plus the anti-automation-telltale flags the
// stealth layer expects.
var browserFlags = map[string]string{
	"disable-background-networking":          "",
	"disable-background-timer-throttling":    "",
	"disable-backgrounding-occluded-windows": "",
	"disable-breakpad":                       "",
	"disable-default-apps":                   "",
	"disable-dev-shm-usage":                  "",
	"disable-extensions":                     "",
	"disable-hang-monitor":                   "",
	"disable-infobars":                       "",
	"disable-ipc-flooding-protection":        "",
	"disable-popup-blocking":                 "",
	"disable-prompt-on-repost":               "",
	"disable-renderer-backgrounding":         "",
	"disable-blink-features":                 "AutomationControlled",
	"force-color-profile":                    "srgb",
	"metrics-recording-only":                 "",
	"no-first-run":                           "",
	"no-default-browser-check":               "",
	"no-service-autorun":                     "",
	"password-store":                         "basic",
	"use-mock-keychain":                      "",
	"mute-audio":                             "",
}

// launchBrowser starts Chromium and connects the control channel. The
// connect is retried briefly: right after launch the devtools endpoint can
// lag the process by a moment.
func launchBrowser(headless bool, width, height int) (*rod.Browser, *launcher.Launcher, error) {
	l := launcher.New().Headless(headless).Leakless(true)
	for name, value := range browserFlags {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}
	l = l.Set("window-size", fmt.Sprintf("%d,%d", width, height))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	log.Info().Str("control_url", controlURL).Bool("headless", headless).Msg("browser launched")

	browser := rod.New().ControlURL(controlURL)
	err = retry.Do(
		browser.Connect,
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, l, nil
}
