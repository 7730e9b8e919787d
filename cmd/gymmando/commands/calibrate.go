package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/calibrate"
	"github.com/gymmando/voice-client/internal/config"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Tune microphone gain and speaking threshold",
	Long: `Record five seconds of background noise and five seconds of speech,
then recommend audio.level_gain and meter.speaking_threshold and save them
to the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		autoSave, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return fmt.Errorf("failed to read 'yes' flag: %w", err)
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

		// Unit gain so the statistics describe the raw signal
		capturer, err := audio.New(audio.Options{
			DeviceName:   cfg.Audio.DeviceName,
			Gain:         1,
			BufferFrames: cfg.Audio.BufferFrames,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize audio capture: %w", err)
		}
		defer capturer.Close()

		path := cfg.Path()
		if path == "" {
			path = config.ExpandHome(cfgFile)
		}

		if _, err := calibrate.NewWizard(capturer, log).Run(path, autoSave); err != nil {
			return fmt.Errorf("calibration failed: %w", err)
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones",
	Long: `List capture devices. Put one of the names in audio.device_name (or
GYMMANDO_DEVICE) to use it instead of the default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		capturer, err := audio.New(audio.Options{}, log)
		if err != nil {
			return err
		}
		defer capturer.Close()

		names, err := capturer.Devices()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No capture devices found")
			return nil
		}
		for i, name := range names {
			fmt.Printf("%2d  %s\n", i, name)
		}
		return nil
	},
}

func init() {
	calibrateCmd.Flags().BoolP("yes", "y", false, "save results without prompting")
}
