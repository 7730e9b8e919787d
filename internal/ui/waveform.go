package ui

import "math"

// Waveform is the mirrored bar visualization of the session level.
// Heights are in terminal rows for one half of the mirror.
type Waveform struct {
	Bars         int
	BaseHeight   float64
	Gain         float64
	PerBarFactor float64
}

// DefaultWaveform returns 12 bars, base 1 row, gain 0.9, per-bar factor 0.3
func DefaultWaveform() Waveform {
	return Waveform{
		Bars:         12,
		BaseHeight:   1,
		Gain:         0.9,
		PerBarFactor: 0.3,
	}
}

// Bar is the geometry of one bar for a single frame
type Bar struct {
	Height       float64
	TrailHeight  float64
	Opacity      float64
	TrailOpacity float64
}

// Compute lays out the bars for level and trail in [0, 1] with half-height h.
// Inactive waveforms stay at the base height.
func (w Waveform) Compute(level, trail, h float64, active bool) []Bar {
	n := w.Bars
	if n < 2 {
		n = 2
	}

	bars := make([]Bar, n)
	for i := range bars {
		position := float64(i) / float64(n-1)
		envelope := math.Sin(math.Pi * position)

		dynamic := 0.0
		activeLevel := 0.0
		if active {
			dynamic = level * h * w.Gain * envelope
			activeLevel = level
		}

		factor := float64((i*7+3)%10) / 10
		variation := 0.0
		if active {
			variation = dynamic * factor * w.PerBarFactor
		}

		bars[i] = Bar{
			Height:       math.Max(w.BaseHeight, w.BaseHeight+dynamic+variation),
			TrailHeight:  math.Max(w.BaseHeight, w.BaseHeight+trail*h*w.Gain*envelope),
			Opacity:      math.Min(1, 0.2+activeLevel*0.8*envelope),
			TrailOpacity: math.Min(0.4, 0.1+trail*0.3*envelope),
		}
	}
	return bars
}

// TotalHeight is the mirrored height of a bar
func (b Bar) TotalHeight() float64 {
	return 2 * b.Height
}
