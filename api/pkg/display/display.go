// Package display boots a virtual framebuffer for headful browser runs on
// machines without a real display server.
package display

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

// Display is a managed Xvfb process. Zero value means no display is owned
// by us (headless run or an external display server).
type Display struct {
	number int
	cmd    *exec.Cmd
}

// Ensure makes a usable DISPLAY available. When the environment already has
// one, or headless is requested, nothing is spawned.
func Ensure(headless bool, number, width, height int, startupTimeout time.Duration) (*Display, error) {
	if headless {
		return &Display{}, nil
	}
	if os.Getenv("DISPLAY") != "" {
		log.Debug().Str("display", os.Getenv("DISPLAY")).Msg("using existing display server")
		return &Display{}, nil
	}

	name := fmt.Sprintf(":%d", number)
	cmd := exec.Command("Xvfb", name, "-screen", "0", fmt.Sprintf("%dx%dx24", width, height), "-nolisten", "tcp")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Xvfb: %w", err)
	}

	d := &Display{number: number, cmd: cmd}
	if err := d.waitForSocket(startupTimeout); err != nil {
		d.Stop()
		return nil, err
	}

	if err := os.Setenv("DISPLAY", name); err != nil {
		d.Stop()
		return nil, fmt.Errorf("failed to publish DISPLAY: %w", err)
	}
	log.Info().Str("display", name).Int("width", width).Int("height", height).Msg("virtual display ready")
	return d, nil
}

// waitForSocket polls the X11 unix socket until the server accepts
// connections or the startup window closes.
func (d *Display) waitForSocket(timeout time.Duration) error {
	socket := fmt.Sprintf("/tmp/.X11-unix/X%d", d.number)
	attempts := uint(timeout / (100 * time.Millisecond))
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			conn, err := net.DialTimeout("unix", socket, 100*time.Millisecond)
			if err != nil {
				return fmt.Errorf("display :%d not accepting connections: %w", d.number, err)
			}
			return conn.Close()
		},
		retry.Attempts(attempts),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// Stop terminates the framebuffer if this process owns one.
func (d *Display) Stop() {
	if d == nil || d.cmd == nil || d.cmd.Process == nil {
		return
	}
	if err := d.cmd.Process.Kill(); err != nil {
		log.Debug().Err(err).Msg("Xvfb kill failed")
	}
	_ = d.cmd.Wait()
	d.cmd = nil
}
