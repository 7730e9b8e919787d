package livekit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gymmando/voice-client/internal/logger"
)

func testLogger() *logger.Logger {
	l, _ := logger.NewWithConfig(logger.Config{Output: &bytes.Buffer{}})
	return l
}

type fakeRoom struct {
	speaking     atomic.Bool
	micErr       error
	mu           sync.Mutex
	micCalls     []bool
	disconnected int
}

func (r *fakeRoom) RemoteSpeaking() bool { return r.speaking.Load() }

func (r *fakeRoom) SetMicrophoneEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.micCalls = append(r.micCalls, enabled)
	if enabled {
		return r.micErr
	}
	return nil
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *fakeRoom) disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

type fakeSink struct {
	mu      sync.Mutex
	flushes int
}

func (k *fakeSink) Write(samples []int16) {}

func (k *fakeSink) Flush() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.flushes++
}

func (k *fakeSink) flushed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.flushes
}

type fakeDialer struct {
	room     *fakeRoom
	err      error
	dials    int
	gotURL   string
	gotToken string
	cb       Callbacks
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string, cb Callbacks) (Room, error) {
	d.dials++
	d.gotURL, d.gotToken, d.cb = url, token, cb
	if d.err != nil {
		return nil, d.err
	}
	return d.room, nil
}

func newTestService(d Dialer) *Service {
	cfg := DefaultServiceConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Rand = func() float64 { return 0.5 }
	return NewService(d, cfg, nil, testLogger())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectPublishesMicrophone(t *testing.T) {
	room := &fakeRoom{}
	d := &fakeDialer{room: room}
	s := newTestService(d)

	if err := s.Connect(context.Background(), "wss://example", "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect(context.Background())

	if !s.Connected() {
		t.Error("Expected Connected() after Connect")
	}
	if d.gotURL != "wss://example" || d.gotToken != "tok" {
		t.Errorf("Dialer got %q %q", d.gotURL, d.gotToken)
	}
	if len(room.micCalls) != 1 || !room.micCalls[0] {
		t.Errorf("Expected microphone enabled once, got %v", room.micCalls)
	}
}

func TestConnectTwiceFails(t *testing.T) {
	d := &fakeDialer{room: &fakeRoom{}}
	s := newTestService(d)

	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect(context.Background())

	if err := s.Connect(context.Background(), "u", "t"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
	if d.dials != 1 {
		t.Errorf("Expected a single dial, got %d", d.dials)
	}
}

func TestConnectFailures(t *testing.T) {
	dialErr := errors.New("dial refused")
	d := &fakeDialer{err: dialErr}
	s := newTestService(d)

	if err := s.Connect(context.Background(), "u", "t"); !errors.Is(err, dialErr) {
		t.Errorf("Expected wrapped dial error, got %v", err)
	}
	if s.Connected() {
		t.Error("Expected not connected after dial failure")
	}

	micErr := errors.New("no permission")
	room := &fakeRoom{micErr: micErr}
	s = newTestService(&fakeDialer{room: room})

	if err := s.Connect(context.Background(), "u", "t"); !errors.Is(err, micErr) {
		t.Errorf("Expected wrapped microphone error, got %v", err)
	}
	if s.Connected() {
		t.Error("Expected not connected after microphone failure")
	}
	if room.disconnects() != 1 {
		t.Errorf("Expected partially joined room to be torn down, got %d disconnects", room.disconnects())
	}

	// The service is reusable after a failure
	room.micErr = nil
	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	s.Disconnect(context.Background())
}

func TestDisconnectWithoutRoom(t *testing.T) {
	s := newTestService(&fakeDialer{})
	if err := s.Disconnect(context.Background()); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestMonitorTracksRemoteSpeaking(t *testing.T) {
	room := &fakeRoom{}
	s := newTestService(&fakeDialer{room: room})

	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	room.speaking.Store(true)
	waitFor(t, func() bool { return s.RemoteLevel() > 0.7 }, "Remote level never rose while speaking")

	room.speaking.Store(false)
	waitFor(t, func() bool { return s.RemoteLevel() < 0.1 }, "Remote level never decayed after speaking")

	room.speaking.Store(true)
	waitFor(t, func() bool { return s.RemoteLevel() >= 0.3 }, "Remote level never rose again")

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s.RemoteLevel() != 0 {
		t.Errorf("Expected remote level reset on disconnect, got %v", s.RemoteLevel())
	}
	if s.Connected() {
		t.Error("Expected not connected after Disconnect")
	}

	room.mu.Lock()
	last := room.micCalls[len(room.micCalls)-1]
	room.mu.Unlock()
	if last {
		t.Error("Expected microphone disabled on disconnect")
	}
	if room.disconnects() != 1 {
		t.Errorf("Expected one room disconnect, got %d", room.disconnects())
	}
}

func TestServerDisconnectClearsState(t *testing.T) {
	room := &fakeRoom{}
	d := &fakeDialer{room: room}
	s := newTestService(d)

	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	room.speaking.Store(true)
	waitFor(t, func() bool { return s.RemoteLevel() > 0 }, "Remote level never rose")

	d.cb.OnDisconnected()

	if s.Connected() {
		t.Error("Expected not connected after server disconnect")
	}
	if s.RemoteLevel() != 0 {
		t.Errorf("Expected remote level reset, got %v", s.RemoteLevel())
	}
	if room.disconnects() != 1 {
		t.Errorf("Expected the dropped room to be closed once, got %d", room.disconnects())
	}

	// A stale callback from an old room must not touch a new connection
	stale := d.cb
	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	stale.OnDisconnected()
	if !s.Connected() {
		t.Error("Stale disconnect callback tore down the new connection")
	}
	s.Disconnect(context.Background())
}

func TestSetMuted(t *testing.T) {
	room := &fakeRoom{}
	s := newTestService(&fakeDialer{room: room})

	if err := s.SetMuted(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Disconnect(context.Background())

	if err := s.SetMuted(true); err != nil {
		t.Fatalf("SetMuted failed: %v", err)
	}
	if !s.Muted() {
		t.Error("Expected muted")
	}
	if err := s.SetMuted(true); err != nil {
		t.Fatalf("Repeated SetMuted failed: %v", err)
	}
	if err := s.SetMuted(false); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}

	room.mu.Lock()
	calls := append([]bool(nil), room.micCalls...)
	room.mu.Unlock()
	want := []bool{true, false, true}
	if len(calls) != len(want) {
		t.Fatalf("Expected mic calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Mic call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestRoomCloseFlushesPlayback(t *testing.T) {
	sink := &fakeSink{}
	d := &fakeDialer{room: &fakeRoom{}}
	cfg := DefaultServiceConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Playback = sink
	s := NewService(d, cfg, nil, testLogger())

	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if sink.flushed() != 0 {
		t.Errorf("Expected no flush while connected, got %d", sink.flushed())
	}
	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if sink.flushed() != 1 {
		t.Errorf("Expected playback flushed on disconnect, got %d", sink.flushed())
	}

	d.room = &fakeRoom{}
	if err := s.Connect(context.Background(), "u", "t"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	d.cb.OnDisconnected()
	if sink.flushed() != 2 {
		t.Errorf("Expected playback flushed on server disconnect, got %d", sink.flushed())
	}
}
