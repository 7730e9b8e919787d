package meter

import "math"

// Smoother applies audio-meter ballistics: a fast attack while the input is
// rising and a slower decay while it falls.
type Smoother struct {
	Attack float64 // Weight of the new value when it is above the current level
	Decay  float64 // Weight of the new value otherwise
}

// DefaultSmoother matches the meter defaults (attack 0.3, decay 0.1)
func DefaultSmoother() Smoother {
	return Smoother{Attack: 0.3, Decay: 0.1}
}

// Next returns prev*(1-k) + x*k clamped to [0, 1], with k chosen by direction
func (s Smoother) Next(prev, x float64) float64 {
	prev = Clamp(prev, 0, 1)
	x = Clamp(x, 0, 1)

	k := s.Decay
	if x > prev {
		k = s.Attack
	}
	k = Clamp(k, 0, 1)

	return Clamp(prev*(1-k)+x*k, 0, 1)
}

// Clamp bounds v to [lo, hi]; NaN maps to lo
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
