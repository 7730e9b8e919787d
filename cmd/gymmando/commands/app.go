package commands

import (
	"fmt"

	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/config"
	"github.com/gymmando/voice-client/internal/debuglog"
	"github.com/gymmando/voice-client/internal/identity"
	"github.com/gymmando/voice-client/internal/livekit"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/meter"
	"github.com/gymmando/voice-client/internal/metrics"
	"github.com/gymmando/voice-client/internal/session"
	"github.com/gymmando/voice-client/internal/token"
)

// app holds the collaborators of one voice session controller
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	identity *identity.Client
	events   *debuglog.Logger
	capturer *audio.Capturer
	player   *audio.Player
	room     *livekit.Service
	ctrl     *session.Controller
}

func newIdentity(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *identity.Client {
	store := identity.NewStore(config.ExpandHome(cfg.Identity.SessionPath))
	return identity.New(identity.Options{
		APIKey:         cfg.Identity.APIKey,
		AuthURL:        cfg.Identity.AuthURL,
		SecureTokenURL: cfg.Identity.SecureTokenURL,
		Metrics:        m,
	}, store, log)
}

func remoteConfig(cfg *config.Config) meter.RemoteConfig {
	return meter.RemoteConfig{
		Smoother:       meter.Smoother{Attack: cfg.Meter.Attack, Decay: cfg.Meter.Decay},
		SpeakingTarget: cfg.Meter.SpeakingTarget,
		Jitter:         cfg.Meter.Jitter,
		Floor:          cfg.Meter.Floor,
	}
}

// newApp opens the audio devices and wires the controller. toggle selects
// the tap-to-start idle status.
func newApp(cfg *config.Config, log *logger.Logger, toggle bool) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	a.identity = newIdentity(cfg, a.metrics, log)

	events, err := debuglog.New(cfg.Client.DebugLogPath, int64(cfg.Client.DebugLogMaxSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	a.events = events

	tokens, err := token.NewFetcher(cfg.Backend.TokenURL, cfg.BackendTimeout(), a.metrics, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.capturer, err = audio.New(audio.Options{
		DeviceName:   cfg.Audio.DeviceName,
		Gain:         cfg.Audio.LevelGain,
		BufferFrames: cfg.Audio.BufferFrames,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	dialer := &livekit.SDKDialer{Source: a.capturer, Metrics: a.metrics, Logger: log}
	svcCfg := livekit.ServiceConfig{
		PollInterval: cfg.PollInterval(),
		Remote:       remoteConfig(cfg),
	}
	if cfg.Audio.Playback {
		a.player, err = audio.NewPlayer(log)
		if err != nil {
			log.Warn("Speaker unavailable, assistant audio will not play: %v", err)
			a.player = nil
		} else {
			dialer.Sink = a.player
			svcCfg.Playback = a.player
		}
	}

	a.room = livekit.NewService(dialer, svcCfg, a.metrics, log)

	a.ctrl = session.NewController(a.identity, tokens, a.room, a.capturer, a.events, a.metrics, session.Options{
		LiveKitURL:        cfg.LiveKit.URL,
		Room:              cfg.LiveKit.Room,
		SpeakingThreshold: cfg.Meter.SpeakingThreshold,
		Hangover:          cfg.Hangover(),
		ToggleMode:        toggle,
	}, log)
	a.capturer.SetLevelHandler(a.ctrl.OnMicLevel)

	return a, nil
}

// Close releases the devices and the session log
func (a *app) Close() {
	if a.capturer != nil {
		if err := a.capturer.Close(); err != nil {
			a.log.Error("Error closing audio capturer: %v", err)
		}
	}
	if a.player != nil {
		if err := a.player.Close(); err != nil {
			a.log.Error("Error closing speaker: %v", err)
		}
	}
	if err := a.events.Close(); err != nil {
		a.log.Error("Error closing session log: %v", err)
	}
}
