package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/gymmando/voice-client/internal/session"
	"github.com/gymmando/voice-client/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start a voice session (default)",
	Long: `Open the session screen and talk to the assistant.

The session starts as soon as the screen appears and ends when you press
e, esc or q. With --toggle the screen waits for space to start and stop.`,
	RunE: runSession,
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("toggle", false, "tap-to-start screen")
}

func init() {
	addSessionFlags(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	toggle, err := cmd.Flags().GetBool("toggle")
	if err != nil {
		return fmt.Errorf("failed to read 'toggle' flag: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()

	a, err := newApp(cfg, log, toggle)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := ui.ModeSession
	if toggle {
		mode = ui.ModeToggle
	}

	wave := ui.DefaultWaveform()
	wave.Bars = cfg.Waveform.Bars
	wave.Gain = cfg.Waveform.Gain
	wave.PerBarFactor = cfg.Waveform.PerBarFactor

	model := ui.NewModel(a.ctrl, ui.Options{
		Mode:       mode,
		Waveform:   wave,
		TrailDecay: cfg.Waveform.TrailDecay,
	})

	log.Info("Opening screen (toggle=%v)", toggle)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("failed to run screen: %w", err)
	}

	// ctrl+c while ending, or quitting mid-connect, leaves the session up
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := endWhenSettled(ctx, a.ctrl); err != nil {
		log.Warn("Error ending session: %v", err)
	}
	return nil
}

// endWhenSettled waits out a start or end in progress, then ends the session
func endWhenSettled(ctx context.Context, ctrl *session.Controller) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := ctrl.End(ctx)
		if !errors.Is(err, session.ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
