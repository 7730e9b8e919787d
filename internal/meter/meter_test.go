package meter

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSmootherAttackAndDecay(t *testing.T) {
	s := DefaultSmoother()

	tests := []struct {
		name string
		prev float64
		x    float64
		want float64
	}{
		{name: "attack from silence", prev: 0, x: 1, want: 0.3},
		{name: "second attack step", prev: 0.3, x: 1, want: 0.51},
		{name: "decay toward zero", prev: 1, x: 0, want: 0.9},
		{name: "equal input uses decay and holds", prev: 0.5, x: 0.5, want: 0.5},
		{name: "input above one is clamped", prev: 0, x: 4, want: 0.3},
		{name: "negative input is clamped", prev: 0.5, x: -2, want: 0.45},
		{name: "NaN input treated as zero", prev: 1, x: math.NaN(), want: 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Next(tt.prev, tt.x)
			if !almostEqual(got, tt.want) {
				t.Errorf("Next(%v, %v) = %v, want %v", tt.prev, tt.x, got, tt.want)
			}
		})
	}
}

func TestSmootherStaysInRange(t *testing.T) {
	s := Smoother{Attack: 1, Decay: 1}
	level := 0.0
	for _, x := range []float64{2, -1, 0.7, 1e9, -1e9} {
		level = s.Next(level, x)
		if level < 0 || level > 1 {
			t.Fatalf("Level %v escaped [0, 1] after input %v", level, x)
		}
	}
}

func TestRemoteLevelSpeakingWithoutJitter(t *testing.T) {
	// 0.5 maps to zero jitter
	r := NewRemoteLevel(DefaultRemoteConfig(), func() float64 { return 0.5 })

	// 0 -> 0.24, lifted to the 0.3 floor
	if got := r.Tick(true); !almostEqual(got, 0.3) {
		t.Errorf("First speaking tick = %v, want 0.3", got)
	}
	// 0.3 + (0.8-0.3)*0.3
	if got := r.Tick(true); !almostEqual(got, 0.45) {
		t.Errorf("Second speaking tick = %v, want 0.45", got)
	}
	// Silence decays with the slow coefficient and no floor
	if got := r.Tick(false); !almostEqual(got, 0.405) {
		t.Errorf("First silent tick = %v, want 0.405", got)
	}
	if got := r.Level(); !almostEqual(got, 0.405) {
		t.Errorf("Level() = %v, want 0.405", got)
	}

	r.Reset()
	if got := r.Level(); got != 0 {
		t.Errorf("Level after Reset = %v, want 0", got)
	}
}

func TestRemoteLevelJitterBounds(t *testing.T) {
	low := NewRemoteLevel(DefaultRemoteConfig(), func() float64 { return 0 })
	high := NewRemoteLevel(DefaultRemoteConfig(), func() float64 { return 0.999999 })

	for i := 0; i < 100; i++ {
		l := low.Tick(true)
		h := high.Tick(true)
		if l < 0.3 || l > 1 {
			t.Fatalf("Low-jitter level %v escaped [0.3, 1] at tick %d", l, i)
		}
		if h < 0.3 || h > 1 {
			t.Fatalf("High-jitter level %v escaped [0.3, 1] at tick %d", h, i)
		}
	}
	if high.Level() <= low.Level() {
		t.Errorf("Expected positive jitter to sit above negative jitter: %v <= %v", high.Level(), low.Level())
	}
}

func TestRemoteLevelSettlesToZero(t *testing.T) {
	r := NewRemoteLevel(DefaultRemoteConfig(), nil)
	for i := 0; i < 20; i++ {
		r.Tick(true)
	}
	for i := 0; i < 400; i++ {
		r.Tick(false)
	}
	if r.Level() > 1e-6 {
		t.Errorf("Expected level to decay to ~0, got %v", r.Level())
	}
}

func TestMicLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		gain    float64
		want    float64
	}{
		{name: "empty buffer", samples: nil, gain: 10, want: 0},
		{name: "silence", samples: []int16{0, 0, 0, 0}, gain: 10, want: 0},
		{name: "half scale unity gain", samples: []int16{16384, -16384}, gain: 1, want: 0.5},
		{name: "gain is applied", samples: []int16{1024, -1024, 1024, -1024}, gain: 10, want: 0.3125},
		{name: "capped at one", samples: []int16{16384, -16384}, gain: 10, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MicLevel(tt.samples, tt.gain)
			if !almostEqual(got, tt.want) {
				t.Errorf("MicLevel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrail(t *testing.T) {
	tr := Trail{Decay: DefaultTrailDecay}

	steps := []struct {
		in   float64
		want float64
	}{
		{in: 0.5, want: 0.5},
		{in: 0.2, want: 0.45},
		{in: 0.2, want: 0.405},
		{in: 0.6, want: 0.6},
	}
	for i, s := range steps {
		if got := tr.Update(s.in); !almostEqual(got, s.want) {
			t.Errorf("Step %d: Update(%v) = %v, want %v", i, s.in, got, s.want)
		}
	}

	tr.Reset()
	if tr.Level() != 0 {
		t.Errorf("Expected trail 0 after Reset, got %v", tr.Level())
	}
}

func TestActivityHangover(t *testing.T) {
	a := NewActivity(ActivityConfig{Threshold: 0.1, Hangover: 300 * time.Millisecond})
	tick := 100 * time.Millisecond

	if a.Process(0.05, tick) {
		t.Fatal("Quiet level should not start activity")
	}
	if !a.Process(0.5, tick) {
		t.Fatal("Loud level should start activity")
	}
	if !a.Process(0, tick) || !a.Process(0, tick) {
		t.Fatal("Activity should survive within the hangover")
	}
	if a.Process(0, tick) {
		t.Fatal("Activity should end once the hangover has elapsed")
	}

	a.Process(0.5, tick)
	a.Process(0, tick)
	a.Process(0.5, tick) // loud again resets the silence clock
	a.Process(0, tick)
	a.Process(0, tick)
	if !a.IsActive() {
		t.Error("Expected activity to continue after silence reset")
	}

	stats := a.Stats()
	if stats.ConsecutiveSilence != 2 || !stats.Active {
		t.Errorf("Unexpected stats %+v", stats)
	}

	a.Reset()
	if a.IsActive() {
		t.Error("Expected inactive after Reset")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(math.NaN(), 0, 1) != 0 {
		t.Error("NaN should clamp to the lower bound")
	}
	if Clamp(2, 0, 1) != 1 || Clamp(-2, 0, 1) != 0 || Clamp(0.4, 0, 1) != 0.4 {
		t.Error("Clamp returned an out-of-range value")
	}
}
