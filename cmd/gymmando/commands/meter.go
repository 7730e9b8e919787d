package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/meter"
	"github.com/gymmando/voice-client/internal/ui"
)

var meterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Show the microphone level without connecting",
	Long: `Print the local microphone level with the configured gain and
speaking threshold. Nothing is sent over the network. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, true)
		if err != nil {
			return err
		}
		defer log.Close()

		capturer, err := audio.New(audio.Options{
			DeviceName:   cfg.Audio.DeviceName,
			Gain:         cfg.Audio.LevelGain,
			BufferFrames: cfg.Audio.BufferFrames,
		}, log)
		if err != nil {
			return err
		}
		defer capturer.Close()

		activity := meter.NewActivity(meter.ActivityConfig{
			Threshold: cfg.Meter.SpeakingThreshold,
			Hangover:  cfg.Hangover(),
		})
		capturer.SetLevelHandler(func(level float64, elapsed time.Duration) {
			activity.Process(level, elapsed)
		})

		if err := capturer.Start(); err != nil {
			return err
		}
		defer capturer.Stop()

		// Frames are not needed here
		go func() {
			for range capturer.Frames() {
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		styles := ui.NewStyles(ui.DefaultTheme)
		smoother := meter.DefaultSmoother()
		ticker := time.NewTicker(ui.FrameInterval)
		defer ticker.Stop()

		fmt.Printf("Microphone meter (gain %.1f, threshold %.3f). Ctrl+C to stop.\n",
			cfg.Audio.LevelGain, cfg.Meter.SpeakingThreshold)

		level := 0.0
		for {
			select {
			case <-sigChan:
				fmt.Println()
				return nil
			case <-ticker.C:
				level = smoother.Next(level, capturer.Level())
				fmt.Printf("\r%s", meterLine(level, cfg.Meter.SpeakingThreshold, activity.IsActive(), styles))
			}
		}
	},
}

// meterLine renders a level bar with the threshold marked
func meterLine(level, threshold float64, speaking bool, styles ui.Styles) string {
	const width = 40
	filled := int(meter.Clamp(level, 0, 1) * width)
	mark := int(meter.Clamp(threshold, 0, 1) * width)

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == mark:
			b.WriteString("|")
		case i < filled:
			b.WriteString("█")
		default:
			b.WriteString("░")
		}
	}

	state := styles.Idle.Render("quiet   ")
	if speaking {
		state = styles.Status.Render("speaking")
	}
	return fmt.Sprintf("%s %.3f %s", styles.Ring.Render(b.String()), level, state)
}
