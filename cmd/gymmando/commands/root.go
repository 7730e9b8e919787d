package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gymmando/voice-client/internal/config"
	"github.com/gymmando/voice-client/internal/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gymmando",
	Short: "Gymmando voice client",
	Long: `Talk to the Gymmando assistant from the terminal.

Sign in once with 'gymmando login', then run 'gymmando' to start a voice
session. The waveform shows the assistant while it speaks and your
microphone otherwise.

Configuration is read from ~/.config/gymmando/config.yaml. A .env file in the
working directory and GYMMANDO_* environment variables override it.`,
	RunE:          runSession,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	addSessionFlags(rootCmd)

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(meterCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(devicesCmd)
}

// loadConfig reads the config file, .env and environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Client.Debug = true
	}
	return cfg, nil
}

// newLogger logs to stdout, or to the configured file when the terminal
// belongs to the TUI
func newLogger(cfg *config.Config, toFile bool) (*logger.Logger, error) {
	lc := logger.Config{
		Debug:  cfg.Client.Debug,
		Format: logger.ParseOutputFormat(cfg.Client.LogFormat),
	}
	if toFile && cfg.Client.LogPath != "" {
		lc.FilePath = config.ExpandHome(cfg.Client.LogPath)
		lc.MaxSize = int64(cfg.Client.LogMaxSize)
	}

	log, err := logger.NewWithConfig(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}
