package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gymmando/voice-client/internal/debuglog"
	"github.com/gymmando/voice-client/internal/identity"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/meter"
	"github.com/gymmando/voice-client/internal/metrics"
)

// ErrBusy is returned while a session is connecting, disconnecting or cooling down
var ErrBusy = errors.New("session is busy")

const (
	DefaultRoom     = "gym-room"
	DefaultCooldown = 500 * time.Millisecond

	// RemoteSpeakingLevel is the remote level above which the assistant counts as speaking
	RemoteSpeakingLevel = 0.1

	watchInterval = 50 * time.Millisecond
)

// Status texts shown under the waveform
const (
	StatusConnecting = "CONNECTING..."
	StatusTapToStart = "TAP TO START"
	StatusAssistant  = "GYMMANDO SPEAKING"
	StatusUser       = "YOU"
	StatusListening  = "LISTENING..."
)

// Identity provides the signed-in user
type Identity interface {
	CurrentUser(ctx context.Context) (*identity.Session, error)
}

// TokenSource fetches room access tokens
type TokenSource interface {
	Fetch(ctx context.Context, userID, idToken string) (string, error)
}

// RoomService is the real-time room connection
type RoomService interface {
	Connect(ctx context.Context, url, token string) error
	Disconnect(ctx context.Context) error
	Connected() bool
	RemoteLevel() float64
	SetMuted(muted bool) error
	Muted() bool
}

// Microphone is the local capture device
type Microphone interface {
	Start() error
	Stop() error
	Level() float64
}

// Options configures a Controller
type Options struct {
	LiveKitURL        string
	Room              string
	Cooldown          time.Duration
	SpeakingThreshold float64
	Hangover          time.Duration
	// ToggleMode shows StatusTapToStart instead of StatusConnecting while idle
	ToggleMode bool
	Now        func() time.Time
}

// Snapshot is what the screens render
type Snapshot struct {
	State       State      `json:"state"`
	Connected   bool       `json:"connected"`
	Muted       bool       `json:"muted"`
	MicLevel    float64    `json:"mic_level"`
	RemoteLevel float64    `json:"remote_level"`
	Level       float64    `json:"level"`
	Status      string     `json:"status"`
	SessionID   string     `json:"session_id,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// Controller drives one voice session at a time: sign-in check, token fetch,
// room connection and microphone capture.
type Controller struct {
	identity Identity
	tokens   TokenSource
	room     RoomService
	mic      Microphone
	events   *debuglog.Logger
	metrics  *metrics.Metrics
	logger   *logger.ContextLogger
	opts     Options
	activity *meter.Activity

	mu            sync.Mutex
	state         State
	sessionID     string
	since         time.Time
	cooldownUntil time.Time
	stop          chan struct{}
	done          chan struct{}
}

// NewController wires the collaborators. events and m may be nil.
func NewController(id Identity, tokens TokenSource, room RoomService, mic Microphone,
	events *debuglog.Logger, m *metrics.Metrics, opts Options, log *logger.Logger) *Controller {
	if opts.Room == "" {
		opts.Room = DefaultRoom
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.SpeakingThreshold <= 0 {
		opts.SpeakingThreshold = meter.DefaultActivityConfig().Threshold
	}
	if opts.Hangover <= 0 {
		opts.Hangover = meter.DefaultActivityConfig().Hangover
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		identity: id,
		tokens:   tokens,
		room:     room,
		mic:      mic,
		events:   events,
		metrics:  m,
		logger:   log.With("session"),
		opts:     opts,
		activity: meter.NewActivity(meter.ActivityConfig{
			Threshold: opts.SpeakingThreshold,
			Hangover:  opts.Hangover,
		}),
	}
}

// OnMicLevel feeds the local speech detector. It matches audio.LevelHandler.
func (c *Controller) OnMicLevel(level float64, elapsed time.Duration) {
	c.activity.Process(level, elapsed)
}

// Start connects a new session. It fails with ErrBusy unless idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateConnecting
	c.sessionID = debuglog.NewSessionID()
	c.since = c.opts.Now()
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Info("Starting session %s", sessionID)

	user, err := c.identity.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrNotSignedIn) {
			c.logger.Warn("No authenticated user, run 'gymmando login'")
		}
		return c.fail(sessionID, "identity", err)
	}

	tok, err := c.tokens.Fetch(ctx, user.UserID, user.IDToken)
	if err != nil {
		return c.fail(sessionID, "token", err)
	}

	if err := c.room.Connect(ctx, c.opts.LiveKitURL, tok); err != nil {
		return c.fail(sessionID, "connect", err)
	}

	if err := c.mic.Start(); err != nil {
		c.room.Disconnect(ctx)
		return c.fail(sessionID, "microphone", err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.since = c.opts.Now()
	c.activity.Reset()
	c.startWatchLocked(sessionID)
	c.mu.Unlock()

	c.events.LogConnect(sessionID, user.UserID, c.opts.Room)
	c.metrics.RecordSessionStarted()
	c.logger.InfoWithFields("Session connected", map[string]interface{}{
		"session_id": sessionID,
		"user_id":    user.UserID,
		"room":       c.opts.Room,
	})
	return nil
}

func (c *Controller) fail(sessionID, stage string, err error) error {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.ErrorWithFields("Session start failed", map[string]interface{}{
		"session_id": sessionID,
		"stage":      stage,
		"error":      err.Error(),
	})
	c.events.LogError(sessionID, stage, err)
	c.metrics.RecordSessionFailed(stage)
	return fmt.Errorf("failed to start session (%s): %w", stage, err)
}

// End stops the microphone and leaves the room. Ending an idle controller is a no-op.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateConnected:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateDisconnecting
	sessionID := c.sessionID
	since := c.since
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	stopWatch(stop, done)

	if err := c.mic.Stop(); err != nil {
		c.logger.Warn("Failed to stop microphone: %v", err)
	}
	if err := c.room.Disconnect(ctx); err != nil {
		c.logger.Warn("Failed to disconnect: %v", err)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.activity.Reset()

	duration := c.opts.Now().Sub(since)
	c.events.LogDisconnect(sessionID, duration.Seconds())
	c.metrics.RecordSessionEnded(duration)
	c.logger.InfoWithFields("Session ended", map[string]interface{}{
		"session_id":       sessionID,
		"duration_seconds": duration.Seconds(),
	})
	return nil
}

// Toggle is the tap-to-start action: it ends a connected session and starts
// an idle one. After an end, further toggles are refused until the cooldown passes.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	cooling := c.opts.Now().Before(c.cooldownUntil)
	c.mu.Unlock()

	if cooling {
		return ErrBusy
	}

	switch state {
	case StateConnected:
		if err := c.End(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		c.cooldownUntil = c.opts.Now().Add(c.opts.Cooldown)
		c.mu.Unlock()
		return nil
	case StateIdle:
		return c.Start(ctx)
	default:
		return ErrBusy
	}
}

// SetMuted mutes or unmutes the published microphone
func (c *Controller) SetMuted(muted bool) error {
	if c.State() != StateConnected {
		return ErrBusy
	}
	return c.room.SetMuted(muted)
}

// State returns the current connection state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the levels and status text for one frame
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.state
	snap := Snapshot{
		State:     state,
		SessionID: c.sessionID,
	}
	if state != StateIdle && !c.since.IsZero() {
		since := c.since
		snap.Since = &since
	}
	c.mu.Unlock()

	snap.Connected = state == StateConnected && c.room.Connected()
	if snap.Connected {
		snap.Muted = c.room.Muted()
		snap.MicLevel = meter.Clamp(c.mic.Level(), 0, 1)
		snap.RemoteLevel = meter.Clamp(c.room.RemoteLevel(), 0, 1)
		snap.Level = max(snap.MicLevel, snap.RemoteLevel)
	}
	if state == StateIdle {
		snap.SessionID = ""
	}

	snap.Status = c.status(snap)
	return snap
}

func (c *Controller) status(s Snapshot) string {
	switch {
	case s.State == StateConnecting:
		return StatusConnecting
	case !s.Connected:
		if c.opts.ToggleMode {
			return StatusTapToStart
		}
		return StatusConnecting
	case s.RemoteLevel > RemoteSpeakingLevel:
		return StatusAssistant
	case c.userSpeaking(s.MicLevel):
		return StatusUser
	default:
		return StatusListening
	}
}

func (c *Controller) userSpeaking(micLevel float64) bool {
	return micLevel > c.opts.SpeakingThreshold || c.activity.IsActive()
}

// startWatchLocked follows speaking turns and notices server-side drops
func (c *Controller) startWatchLocked(sessionID string) {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()

		var assistant, user bool
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			if !c.room.Connected() {
				c.logger.Warn("Room connection lost, ending session %s", sessionID)
				c.events.LogError(sessionID, "connection", errors.New("room disconnected"))
				go c.End(context.Background())
				return
			}

			mic := c.mic.Level()
			remote := c.room.RemoteLevel()
			c.metrics.SetLevels(mic, remote)

			if now := remote > RemoteSpeakingLevel; now != assistant {
				assistant = now
				c.speakingChanged(sessionID, "assistant", now)
			}
			if now := c.userSpeaking(mic); now != user {
				user = now
				c.speakingChanged(sessionID, "user", now)
			}
		}
	}()
}

func (c *Controller) speakingChanged(sessionID, speaker string, speaking bool) {
	c.events.LogSpeaking(sessionID, speaker, speaking)
	if speaking {
		c.metrics.RecordSpeakingTurn(speaker)
	}
	c.logger.Debug("%s speaking=%v", speaker, speaking)
}

func stopWatch(stop, done chan struct{}) {
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
