package ui

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gymmando/voice-client/internal/session"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWaveformIdleStaysAtBase(t *testing.T) {
	w := DefaultWaveform()
	bars := w.Compute(0.9, 0, 10, false)

	if len(bars) != 12 {
		t.Fatalf("Expected 12 bars, got %d", len(bars))
	}
	for i, b := range bars {
		if b.Height != w.BaseHeight {
			t.Errorf("Bar %d: expected base height, got %v", i, b.Height)
		}
		if !almostEqual(b.Opacity, 0.2) {
			t.Errorf("Bar %d: expected idle opacity 0.2, got %v", i, b.Opacity)
		}
	}
}

func TestWaveformActiveGeometry(t *testing.T) {
	w := DefaultWaveform()
	const h = 10.0
	bars := w.Compute(1, 0, h, true)

	// Edges have zero envelope
	if bars[0].Height != w.BaseHeight || bars[11].Height != w.BaseHeight {
		t.Errorf("Expected edge bars at base, got %v and %v", bars[0].Height, bars[11].Height)
	}

	// Bar 5: position 5/11, factor ((5*7+3)%10)/10 = 0.8
	env := math.Sin(math.Pi * 5 / 11)
	dynamic := 1 * h * 0.9 * env
	want := 1 + dynamic + dynamic*0.8*0.3
	if !almostEqual(bars[5].Height, want) {
		t.Errorf("Bar 5 height = %v, want %v", bars[5].Height, want)
	}
	if !almostEqual(bars[5].Opacity, math.Min(1, 0.2+0.8*env)) {
		t.Errorf("Bar 5 opacity = %v", bars[5].Opacity)
	}
	if !almostEqual(bars[5].TotalHeight(), 2*want) {
		t.Errorf("Expected mirrored height %v, got %v", 2*want, bars[5].TotalHeight())
	}

	// Mirror symmetry of the envelope with different per-bar factors
	if almostEqual(bars[3].Height, bars[8].Height) {
		t.Error("Expected per-bar variation to break symmetry")
	}
}

func TestWaveformTrail(t *testing.T) {
	w := DefaultWaveform()
	bars := w.Compute(0, 1, 10, true)

	mid := bars[6]
	env := math.Sin(math.Pi * 6 / 11)
	if !almostEqual(mid.TrailHeight, 1+10*0.9*env) {
		t.Errorf("Trail height = %v", mid.TrailHeight)
	}
	for i, b := range bars {
		if b.TrailOpacity > 0.4+1e-12 || b.TrailOpacity < 0.1-1e-12 {
			t.Errorf("Bar %d: trail opacity %v out of [0.1, 0.4]", i, b.TrailOpacity)
		}
	}
}

func TestWaveformMinimumBars(t *testing.T) {
	w := DefaultWaveform()
	w.Bars = 1
	bars := w.Compute(1, 1, 5, true)
	if len(bars) != 2 {
		t.Fatalf("Expected 2 bars for n < 2, got %d", len(bars))
	}
	for _, b := range bars {
		if math.IsNaN(b.Height) {
			t.Fatal("Height is NaN")
		}
	}
}

func TestRenderWaveformRows(t *testing.T) {
	bars := []Bar{{Height: 1, TrailHeight: 1, Opacity: 1}, {Height: 3, TrailHeight: 3, Opacity: 1}}
	out := RenderWaveform(bars, 4, DefaultTheme)

	rows := strings.Split(out, "\n")
	if len(rows) != 8 {
		t.Fatalf("Expected 8 rows, got %d", len(rows))
	}
	if strings.Count(out, barGlyph) != 2*(2*1+2*3) {
		t.Errorf("Expected %d bar cells, got %d", 2*(2*1+2*3), strings.Count(out, barGlyph))
	}
}

func TestFade(t *testing.T) {
	if got := fade("#ffffff", "#000000", 0.5); got != "#808080" {
		t.Errorf("fade = %v, want #808080", got)
	}
	if got := fade("#ff7a1a", "#000000", 1); got != "#ff7a1a" {
		t.Errorf("Full opacity should keep the color, got %v", got)
	}
	if got := fade("red", "#000000", 0.3); got != "red" {
		t.Errorf("Non-hex colors should pass through, got %v", got)
	}
}

type fakeSession struct {
	mu        sync.Mutex
	snap      session.Snapshot
	starts    int
	ends      int
	toggles   int
	toggleErr error
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSession) End(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil
}

func (f *fakeSession) Toggle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return f.toggleErr
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSessionScreenStartsAndEnds(t *testing.T) {
	fs := &fakeSession{}
	m := NewModel(fs, Options{Mode: ModeSession})

	// Init batches start and tick; run the start command directly
	if msg := m.start()(); msg.(StartedMsg).Err != nil {
		t.Fatalf("Unexpected start error %v", msg.(StartedMsg).Err)
	}
	if fs.starts != 1 {
		t.Errorf("Expected one start, got %d", fs.starts)
	}

	model, cmd := m.Update(keyRunes("e"))
	m = model.(Model)
	if !m.ending || cmd == nil {
		t.Fatal("Expected 'e' to begin ending the session")
	}
	msg := cmd()
	if _, ok := msg.(EndedMsg); !ok {
		t.Fatalf("Expected EndedMsg, got %T", msg)
	}
	if fs.ends != 1 {
		t.Errorf("Expected one end, got %d", fs.ends)
	}

	model, cmd = m.Update(msg)
	m = model.(Model)
	if !m.quitting || cmd == nil {
		t.Error("Expected quit after the session ended")
	}
}

func TestToggleScreenIgnoresBusy(t *testing.T) {
	fs := &fakeSession{toggleErr: session.ErrBusy}
	m := NewModel(fs, Options{Mode: ModeToggle})

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	m = model.(Model)
	if cmd == nil {
		t.Fatal("Expected space to toggle")
	}
	model, _ = m.Update(cmd())
	m = model.(Model)
	if m.lastErr != nil {
		t.Errorf("Busy toggles should not surface an error, got %v", m.lastErr)
	}

	fs.toggleErr = errors.New("token endpoint returned 500")
	model, cmd = m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	m = model.(Model)
	model, _ = m.Update(cmd())
	m = model.(Model)
	if m.lastErr == nil {
		t.Error("Expected real toggle errors to be shown")
	}

	// 'e' does nothing on the toggle screen
	model, cmd = m.Update(keyRunes("e"))
	if cmd != nil || model.(Model).ending {
		t.Error("Expected 'e' to be ignored on the toggle screen")
	}
}

func TestTickRefreshesSnapshotAndTrail(t *testing.T) {
	fs := &fakeSession{snap: session.Snapshot{Connected: true, Level: 0.8, Status: session.StatusAssistant}}
	m := NewModel(fs, Options{Mode: ModeToggle})

	model, cmd := m.Update(TickMsg(time.Now()))
	m = model.(Model)
	if cmd == nil {
		t.Error("Expected the next tick to be scheduled")
	}
	if m.Snapshot().Status != session.StatusAssistant {
		t.Errorf("Expected refreshed status, got %q", m.Snapshot().Status)
	}
	if !almostEqual(m.trail.Level(), 0.8) {
		t.Errorf("Expected trail 0.8, got %v", m.trail.Level())
	}

	fs.mu.Lock()
	fs.snap = session.Snapshot{Status: session.StatusTapToStart}
	fs.mu.Unlock()
	model, _ = m.Update(TickMsg(time.Now()))
	m = model.(Model)
	if !almostEqual(m.trail.Level(), 0.72) {
		t.Errorf("Expected trail to decay to 0.72, got %v", m.trail.Level())
	}

	view := m.View()
	if !strings.Contains(view, session.StatusTapToStart) || !strings.Contains(view, "Tap to start") {
		t.Errorf("Unexpected view:\n%s", view)
	}
}
