package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gymmando/voice-client/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless with the local control API",
	Long: `Run without a screen. Sessions are driven over HTTP:

  POST /start, /stop, /toggle, /mute, /unmute
  GET  /status, /health, /metrics
  GET  /levels   (websocket, snapshot JSON at 20 Hz)

Example:
  gymmando serve --bind localhost:8081
  curl -X POST localhost:8081/start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
			cfg.API.BindAddress = bind
		}

		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		log.Info("Starting Gymmando client")
		log.Info("Config: livekit_url=%s, room=%s, api_bind_address=%s, debug=%v",
			cfg.LiveKit.URL, cfg.LiveKit.Room, cfg.API.BindAddress, cfg.Client.Debug)

		a, err := newApp(cfg, log, true)
		if err != nil {
			return err
		}
		defer a.Close()

		apiServer := api.New(cfg.API.BindAddress, a.ctrl, a.metrics, log)
		errCh := make(chan error, 1)
		go func() {
			errCh <- apiServer.Start()
		}()

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		log.Info("Client running - press Ctrl+C to stop")
		select {
		case <-sigChan:
		case err := <-errCh:
			if err != nil {
				log.Error("API server error: %v", err)
				return err
			}
		}

		log.Info("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Stop(ctx); err != nil {
			log.Error("Error stopping API server: %v", err)
		}
		if err := endWhenSettled(ctx, a.ctrl); err != nil {
			log.Error("Error ending session: %v", err)
		}

		log.Info("Client stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("bind", "", "control API address (default from config)")
}
