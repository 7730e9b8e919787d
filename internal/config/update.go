package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UpdateAudioCalibration writes audio.level_gain and meter.speaking_threshold into
// the config file, keeping every other key as it was. A missing file is created.
func UpdateAudioCalibration(configPath string, levelGain, speakingThreshold float64) error {
	configPath = ExpandHome(configPath)

	configData := map[string]interface{}{}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &configData); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		if configData == nil {
			configData = map[string]interface{}{}
		}
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	default:
		return fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	section(configData, "audio")["level_gain"] = levelGain
	section(configData, "meter")["speaking_threshold"] = speakingThreshold

	output, err := yaml.Marshal(configData)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, output, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// section returns the named top-level mapping, creating it if absent
func section(configData map[string]interface{}, name string) map[string]interface{} {
	m, ok := configData[name].(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		configData[name] = m
	}
	return m
}
