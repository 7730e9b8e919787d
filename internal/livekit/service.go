package livekit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/meter"
	"github.com/gymmando/voice-client/internal/metrics"
)

var (
	// ErrAlreadyConnected is returned by Connect while a room is joined
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned by operations that need a joined room
	ErrNotConnected = errors.New("not connected")
)

// DefaultPollInterval is how often the remote speaking flag is sampled
const DefaultPollInterval = 50 * time.Millisecond

// Room is a joined real-time room
type Room interface {
	// RemoteSpeaking is true while any remote participant is speaking
	RemoteSpeaking() bool
	SetMicrophoneEnabled(enabled bool) error
	Disconnect()
}

// Callbacks are events raised by the room
type Callbacks struct {
	// OnDisconnected fires when the room drops without Disconnect being called
	OnDisconnected func()
}

// Dialer joins rooms
type Dialer interface {
	Dial(ctx context.Context, url, token string, cb Callbacks) (Room, error)
}

// ServiceConfig configures a Service
type ServiceConfig struct {
	PollInterval time.Duration
	Remote       meter.RemoteConfig
	Rand         func() float64 // jitter source, nil = math/rand
	Playback     audio.Sink     // flushed when the room closes, may be nil
}

// DefaultServiceConfig returns the standard polling and smoothing settings
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PollInterval: DefaultPollInterval,
		Remote:       meter.DefaultRemoteConfig(),
	}
}

// Service owns the room connection and the smoothed remote level
type Service struct {
	dialer       Dialer
	pollInterval time.Duration
	remote       *meter.RemoteLevel
	playback     audio.Sink
	metrics      *metrics.Metrics
	logger       *logger.ContextLogger

	mu         sync.RWMutex
	room       Room
	connected  bool
	muted      bool
	generation uint64
	stop       chan struct{}
	done       chan struct{}
}

// NewService creates a disconnected service
func NewService(d Dialer, cfg ServiceConfig, m *metrics.Metrics, log *logger.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Service{
		dialer:       d,
		pollInterval: cfg.PollInterval,
		remote:       meter.NewRemoteLevel(cfg.Remote, cfg.Rand),
		playback:     cfg.Playback,
		metrics:      m,
		logger:       log.With("livekit"),
	}
}

// Connect joins the room at url with token and publishes the microphone
func (s *Service) Connect(ctx context.Context, url, token string) error {
	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("Connecting to %s", url)

	room, err := s.dialer.Dial(ctx, url, token, Callbacks{
		OnDisconnected: func() { s.handleDropped(gen) },
	})
	if err != nil {
		s.logger.Error("Failed to connect: %v", err)
		return fmt.Errorf("failed to connect to room: %w", err)
	}

	if err := room.SetMicrophoneEnabled(true); err != nil {
		s.logger.Error("Failed to enable microphone: %v", err)
		s.mu.Lock()
		s.generation++
		s.mu.Unlock()
		room.Disconnect()
		return fmt.Errorf("failed to enable microphone: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// Dropped while the microphone was being published
		s.mu.Unlock()
		room.Disconnect()
		return fmt.Errorf("failed to connect to room: %w", ErrNotConnected)
	}
	s.room = room
	s.connected = true
	s.muted = false
	s.remote.Reset()
	s.startMonitorLocked(room)
	s.mu.Unlock()

	s.logger.Info("Connected")
	return nil
}

// Disconnect leaves the room. Without a room it only logs a warning.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	room := s.room
	if room == nil {
		s.mu.Unlock()
		s.logger.Warn("Disconnect called with no active room")
		return nil
	}
	s.room = nil
	s.connected = false
	s.generation++
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	stopMonitor(stop, done)

	if err := room.SetMicrophoneEnabled(false); err != nil {
		s.logger.Debug("Ignoring microphone disable error: %v", err)
	}
	room.Disconnect()
	s.flushPlayback()

	s.remote.Reset()
	s.metrics.SetLevels(0, 0)
	s.logger.Info("Disconnected")
	return nil
}

// handleDropped runs when the SDK reports a disconnect we did not ask for
func (s *Service) handleDropped(gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.generation++
	room := s.room
	s.room = nil
	s.connected = false
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	stopMonitor(stop, done)
	// Release the microphone pump and encoder held by the dead room
	if room != nil {
		room.Disconnect()
	}
	s.flushPlayback()
	s.remote.Reset()
	s.metrics.SetLevels(0, 0)
	s.logger.Warn("Room disconnected by server")
}

// SetMuted mutes or unmutes the published microphone while connected
func (s *Service) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return ErrNotConnected
	}
	if s.muted == muted {
		return nil
	}
	if err := s.room.SetMicrophoneEnabled(!muted); err != nil {
		return fmt.Errorf("failed to set microphone: %w", err)
	}
	s.muted = muted
	s.logger.Info("Microphone muted=%v", muted)
	return nil
}

// Muted reports whether the microphone is muted
func (s *Service) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// Connected reports whether a room is joined
func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// RemoteLevel returns the smoothed remote speaking level in [0, 1]
func (s *Service) RemoteLevel() float64 {
	return s.remote.Level()
}

func (s *Service) startMonitorLocked(room Room) {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.remote.Tick(room.RemoteSpeaking())
			}
		}
	}()
}

// flushPlayback drops assistant audio still queued from the closed room
func (s *Service) flushPlayback() {
	if s.playback != nil {
		s.playback.Flush()
	}
}

func stopMonitor(stop, done chan struct{}) {
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
