package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gymmando/voice-client/internal/meter"
	"github.com/gymmando/voice-client/internal/session"
)

// FrameInterval is the redraw period (20 fps)
const FrameInterval = 50 * time.Millisecond

// Mode selects the screen
type Mode int

const (
	// ModeSession starts a session on appear and ends it on exit
	ModeSession Mode = iota
	// ModeToggle is the tap-to-start screen
	ModeToggle
)

// Session is what the screens drive
type Session interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	Toggle(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Options configures a Model
type Options struct {
	Mode       Mode
	Waveform   Waveform
	TrailDecay float64
	Theme      Theme
	Timeout    time.Duration // per start/end operation
}

// Model is the bubbletea model for both screens
type Model struct {
	sess    Session
	mode    Mode
	wave    Waveform
	trail   *meter.Trail
	theme   Theme
	styles  Styles
	timeout time.Duration

	snap     session.Snapshot
	lastErr  error
	ending   bool
	quitting bool
	width    int
	height   int
}

// NewModel creates a screen for sess
func NewModel(sess Session, opts Options) Model {
	if opts.Waveform.Bars == 0 {
		opts.Waveform = DefaultWaveform()
	}
	if opts.TrailDecay <= 0 {
		opts.TrailDecay = meter.DefaultTrailDecay
	}
	if opts.Theme == (Theme{}) {
		opts.Theme = DefaultTheme
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return Model{
		sess:    sess,
		mode:    opts.Mode,
		wave:    opts.Waveform,
		trail:   &meter.Trail{Decay: opts.TrailDecay},
		theme:   opts.Theme,
		styles:  NewStyles(opts.Theme),
		timeout: opts.Timeout,
		snap:    sess.Snapshot(),
	}
}

// TickMsg is sent every frame
type TickMsg time.Time

// StartedMsg reports the result of a start
type StartedMsg struct{ Err error }

// EndedMsg reports the result of an end
type EndedMsg struct{ Err error }

// ToggledMsg reports the result of a toggle
type ToggledMsg struct{ Err error }

// Init initializes the model
func (m Model) Init() tea.Cmd {
	if m.mode == ModeSession {
		return tea.Batch(m.start(), m.tick())
	}
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(FrameInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) start() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return StartedMsg{Err: m.sess.Start(ctx)}
	}
}

func (m Model) end() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return EndedMsg{Err: m.sess.End(ctx)}
	}
}

func (m Model) toggle() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return ToggledMsg{Err: m.sess.Toggle(ctx)}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.snap = m.sess.Snapshot()
		level := 0.0
		if m.snap.Connected {
			level = m.snap.Level
		}
		m.trail.Update(level)
		return m, m.tick()

	case StartedMsg:
		m.lastErr = msg.Err

	case ToggledMsg:
		// Taps while connecting or cooling down are ignored
		if msg.Err != nil && !errors.Is(msg.Err, session.ErrBusy) {
			m.lastErr = msg.Err
		} else if msg.Err == nil {
			m.lastErr = nil
		}

	case EndedMsg:
		if m.ending {
			m.quitting = true
			return m, tea.Quit
		}
		m.lastErr = msg.Err
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ending {
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.ending = true
		return m, m.end()
	case "e":
		if m.mode == ModeSession {
			m.ending = true
			return m, m.end()
		}
	case " ", "enter":
		if m.mode == ModeToggle {
			return m, m.toggle()
		}
	}
	return m, nil
}

// View renders the screen
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	half := 6
	if m.height > 0 {
		half = max(2, min(10, (m.height-12)/2))
	}

	bars := m.wave.Compute(m.snap.Level, m.trail.Level(), float64(half), m.snap.Connected)

	var sections []string
	sections = append(sections, m.styles.Title.Render("GYMMANDO"), "")
	sections = append(sections, RenderWaveform(bars, half, m.theme), "")
	sections = append(sections, m.ring())
	sections = append(sections, m.styles.Status.Render(m.snap.Status))

	if m.lastErr != nil {
		sections = append(sections, m.styles.Error.Render(truncate(m.lastErr.Error(), 60)))
	} else {
		sections = append(sections, "")
	}

	sections = append(sections, m.button(), m.styles.Help.Render(m.help()))

	body := lipgloss.JoinVertical(lipgloss.Center, sections...)
	if m.width == 0 || m.height == 0 {
		return body
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
}

// ring shows the connection state and the microphone
func (m Model) ring() string {
	mic := "mic"
	if m.snap.Muted {
		mic = "mic off"
	}
	if m.snap.Connected {
		return m.styles.Ring.Render(fmt.Sprintf("( ● )  %s", mic))
	}
	return m.styles.Idle.Render("( ○ )")
}

func (m Model) button() string {
	switch {
	case m.ending:
		return m.styles.Button.Render("Ending...")
	case m.mode == ModeSession:
		return m.styles.Button.Render("End Session")
	case m.snap.Connected:
		return m.styles.Button.Render("Tap to stop")
	default:
		return m.styles.Button.Render("Tap to start")
	}
}

func (m Model) help() string {
	if m.mode == ModeToggle {
		return "space: start/stop • q: quit"
	}
	return "e/esc/q: end session"
}

// Snapshot returns the last rendered session snapshot
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-1]) + "…"
}
