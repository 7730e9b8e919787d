package meter

// DefaultTrailDecay is the per-update multiplier applied while the level falls
const DefaultTrailDecay = 0.9

// Trail follows a level instantly upward and decays geometrically downward
type Trail struct {
	Decay float64
	level float64
}

// Update feeds one level sample and returns the trail
func (t *Trail) Update(x float64) float64 {
	x = Clamp(x, 0, 1)
	if x > t.level {
		t.level = x
	} else {
		t.level *= Clamp(t.Decay, 0, 1)
	}
	return t.level
}

// Level returns the current trail
func (t *Trail) Level() float64 {
	return t.level
}

// Reset clears the trail
func (t *Trail) Reset() {
	t.level = 0
}
