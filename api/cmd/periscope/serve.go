package periscope

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/periscopehq/periscope/api/pkg/config"
	"github.com/periscopehq/periscope/api/pkg/display"
	"github.com/periscopehq/periscope/api/pkg/intervention"
	"github.com/periscopehq/periscope/api/pkg/server"
	"github.com/periscopehq/periscope/api/pkg/session"
	"github.com/periscopehq/periscope/api/pkg/stealth"
	"github.com/periscopehq/periscope/api/pkg/system"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the periscope server.",
		Long:  "Start the periscope server: one browser, many isolated remote sessions.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := serve(cmd); err != nil {
				log.Fatal().Err(err).Msg("failed to run server")
			}
			return nil
		},
	}
	return serveCmd
}

func serve(cmd *cobra.Command) error {
	system.SetupLogging()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load server config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	disp, err := display.Ensure(cfg.Browser.Headless,
		cfg.Display.Number,
		cfg.Sessions.ViewportWidth, cfg.Sessions.ViewportHeight,
		cfg.Display.StartupTimeout())
	if err != nil {
		return fmt.Errorf("failed to bootstrap display: %v", err)
	}
	defer disp.Stop()

	registry := session.NewRegistry(cfg, stealth.NewManager())
	coordinator := intervention.NewCoordinator(
		system.BaseURL(cfg.WebServer.UseHTTPS, cfg.WebServer.Host, cfg.WebServer.Port))

	srv := server.NewServer(cfg, registry, coordinator)

	if err := registry.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser: %v", err)
	}
	defer registry.Close()

	// Stale interventions are swept on a slow cadence; a pending rendezvous
	// nobody resolves within an hour is cancelled.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				coordinator.CleanupOld(time.Hour)
			}
		}
	}()

	// Blocks until the signal context cancels, then drains connections
	// before the deferred registry and display teardown run.
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
