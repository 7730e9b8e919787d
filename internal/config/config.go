package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the client looks for its config when --config is not given
const DefaultPath = "~/.config/gymmando/config.yaml"

// Config holds the client configuration
type Config struct {
	Client struct {
		Debug           bool   `yaml:"debug"`
		LogFormat       string `yaml:"log_format"` // text or json
		LogPath         string `yaml:"log_path"`   // Used while the TUI owns the terminal
		LogMaxSize      int    `yaml:"log_max_size"`
		DebugLogPath    string `yaml:"debug_log_path"` // Session event log, empty = disabled
		DebugLogMaxSize int    `yaml:"debug_log_max_size"`
	} `yaml:"client"`

	Identity struct {
		APIKey         string `yaml:"api_key"`
		AuthURL        string `yaml:"auth_url"`
		SecureTokenURL string `yaml:"secure_token_url"`
		SessionPath    string `yaml:"session_path"`
	} `yaml:"identity"`

	Backend struct {
		TokenURL  string `yaml:"token_url"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"backend"`

	LiveKit struct {
		URL            string `yaml:"url"`
		Room           string `yaml:"room"`
		PollIntervalMs int    `yaml:"poll_interval_ms"`
	} `yaml:"livekit"`

	Audio struct {
		DeviceName   string  `yaml:"device_name"` // Empty = default device
		LevelGain    float64 `yaml:"level_gain"`
		BufferFrames int     `yaml:"buffer_frames"`
		Playback     bool    `yaml:"playback"`
	} `yaml:"audio"`

	Meter struct {
		Attack            float64 `yaml:"attack"`
		Decay             float64 `yaml:"decay"`
		SpeakingTarget    float64 `yaml:"speaking_target"`
		Jitter            float64 `yaml:"jitter"`
		Floor             float64 `yaml:"floor"`
		SpeakingThreshold float64 `yaml:"speaking_threshold"`
		HangoverMs        int     `yaml:"hangover_ms"`
	} `yaml:"meter"`

	Waveform struct {
		Bars         int     `yaml:"bars"`
		TrailDecay   float64 `yaml:"trail_decay"`
		Gain         float64 `yaml:"gain"`
		PerBarFactor float64 `yaml:"per_bar_factor"`
	} `yaml:"waveform"`

	API struct {
		BindAddress string `yaml:"bind_address"`
	} `yaml:"api"`

	// Internal field to track config file path for reloading
	filePath string
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = ExpandHome(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.filePath = path
	cfg.fillDefaults()

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
// Environment overrides are applied either way.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
		cfg.filePath = ExpandHome(path)
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Reload reloads the configuration from disk and updates the current config in-place.
func (c *Config) Reload() error {
	if c.filePath == "" {
		return fmt.Errorf("config file path not set, cannot reload")
	}

	newCfg, err := Load(c.filePath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	newCfg.ApplyEnv()

	c.Client = newCfg.Client
	c.Identity = newCfg.Identity
	c.Backend = newCfg.Backend
	c.LiveKit = newCfg.LiveKit
	c.Audio = newCfg.Audio
	c.Meter = newCfg.Meter
	c.Waveform = newCfg.Waveform
	c.API = newCfg.API

	return nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.filePath
}

// ApplyEnv overrides selected fields from GYMMANDO_* environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GYMMANDO_API_KEY"); v != "" {
		c.Identity.APIKey = v
	}
	if v := os.Getenv("GYMMANDO_TOKEN_URL"); v != "" {
		c.Backend.TokenURL = v
	}
	if v := os.Getenv("GYMMANDO_LIVEKIT_URL"); v != "" {
		c.LiveKit.URL = v
	}
	if v := os.Getenv("GYMMANDO_ROOM"); v != "" {
		c.LiveKit.Room = v
	}
	if v := os.Getenv("GYMMANDO_DEVICE"); v != "" {
		c.Audio.DeviceName = v
	}
	if v := os.Getenv("GYMMANDO_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.Debug = b
		}
	}
}

// Validate checks value ranges that would otherwise break the meter arithmetic
func (c *Config) Validate() error {
	if c.Backend.TokenURL == "" {
		return fmt.Errorf("backend.token_url cannot be empty")
	}
	if c.LiveKit.URL == "" {
		return fmt.Errorf("livekit.url cannot be empty")
	}
	if c.LiveKit.PollIntervalMs <= 0 {
		return fmt.Errorf("livekit.poll_interval_ms must be positive, got %d", c.LiveKit.PollIntervalMs)
	}
	for name, v := range map[string]float64{
		"meter.attack":             c.Meter.Attack,
		"meter.decay":              c.Meter.Decay,
		"meter.speaking_target":    c.Meter.SpeakingTarget,
		"meter.floor":              c.Meter.Floor,
		"meter.speaking_threshold": c.Meter.SpeakingThreshold,
		"waveform.trail_decay":     c.Waveform.TrailDecay,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
		}
	}
	if c.Audio.LevelGain <= 0 {
		return fmt.Errorf("audio.level_gain must be positive, got %v", c.Audio.LevelGain)
	}
	if c.Waveform.Bars < 2 {
		return fmt.Errorf("waveform.bars must be at least 2, got %d", c.Waveform.Bars)
	}
	return nil
}

// PollInterval returns the remote level monitoring period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.LiveKit.PollIntervalMs) * time.Millisecond
}

// BackendTimeout returns the token request timeout
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}

// Hangover returns how long local speech activity outlives the last loud buffer
func (c *Config) Hangover() time.Duration {
	return time.Duration(c.Meter.HangoverMs) * time.Millisecond
}

// Default returns a default configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Client.Debug = false
	cfg.Client.LogFormat = "text"
	cfg.Client.LogPath = "~/.config/gymmando/client.log"
	cfg.Client.LogMaxSize = 8388608
	cfg.Client.DebugLogPath = "~/.config/gymmando/session.log"
	cfg.Client.DebugLogMaxSize = 8388608
	cfg.Identity.AuthURL = "https://identitytoolkit.googleapis.com/v1"
	cfg.Identity.SecureTokenURL = "https://securetoken.googleapis.com/v1"
	cfg.Identity.SessionPath = "~/.config/gymmando/session.json"
	cfg.Backend.TokenURL = "https://gymmando-api-cjpxcek7oa-uc.a.run.app/token"
	cfg.Backend.TimeoutMs = 10000
	cfg.LiveKit.URL = "wss://gymbo-li7l0in9.livekit.cloud"
	cfg.LiveKit.Room = "gym-room"
	cfg.LiveKit.PollIntervalMs = 50
	cfg.Audio.LevelGain = 10
	cfg.Audio.BufferFrames = 1024
	cfg.Audio.Playback = true
	cfg.Meter.Attack = 0.3
	cfg.Meter.Decay = 0.1
	cfg.Meter.SpeakingTarget = 0.8
	cfg.Meter.Jitter = 0.1
	cfg.Meter.Floor = 0.3
	cfg.Meter.SpeakingThreshold = 0.1
	cfg.Meter.HangoverMs = 300
	cfg.Waveform.Bars = 12
	cfg.Waveform.TrailDecay = 0.9
	cfg.Waveform.Gain = 0.9
	cfg.Waveform.PerBarFactor = 0.3
	cfg.API.BindAddress = "localhost:8081"
	return cfg
}

// fillDefaults restores zero values a partial YAML file may have written over
func (c *Config) fillDefaults() {
	d := Default()
	if c.Client.LogFormat == "" {
		c.Client.LogFormat = d.Client.LogFormat
	}
	if c.Client.LogMaxSize == 0 {
		c.Client.LogMaxSize = d.Client.LogMaxSize
	}
	if c.Client.DebugLogMaxSize == 0 {
		c.Client.DebugLogMaxSize = d.Client.DebugLogMaxSize
	}
	if c.Identity.AuthURL == "" {
		c.Identity.AuthURL = d.Identity.AuthURL
	}
	if c.Identity.SecureTokenURL == "" {
		c.Identity.SecureTokenURL = d.Identity.SecureTokenURL
	}
	if c.Identity.SessionPath == "" {
		c.Identity.SessionPath = d.Identity.SessionPath
	}
	if c.Backend.TimeoutMs == 0 {
		c.Backend.TimeoutMs = d.Backend.TimeoutMs
	}
	if c.LiveKit.Room == "" {
		c.LiveKit.Room = d.LiveKit.Room
	}
	if c.LiveKit.PollIntervalMs == 0 {
		c.LiveKit.PollIntervalMs = d.LiveKit.PollIntervalMs
	}
	if c.Audio.LevelGain == 0 {
		c.Audio.LevelGain = d.Audio.LevelGain
	}
	if c.Audio.BufferFrames == 0 {
		c.Audio.BufferFrames = d.Audio.BufferFrames
	}
	if c.Waveform.Bars == 0 {
		c.Waveform.Bars = d.Waveform.Bars
	}
	if c.API.BindAddress == "" {
		c.API.BindAddress = d.API.BindAddress
	}
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
