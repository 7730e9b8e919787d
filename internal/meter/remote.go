package meter

import (
	"math/rand/v2"
	"sync"
)

// RemoteConfig tunes the remote speaking level
type RemoteConfig struct {
	Smoother       Smoother
	SpeakingTarget float64 // Level the meter heads toward while a remote participant speaks
	Jitter         float64 // Uniform +-jitter added per tick while speaking
	Floor          float64 // Lower bound while speaking, so the bars never look idle
}

// DefaultRemoteConfig returns target 0.8, jitter 0.1, floor 0.3
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Smoother:       DefaultSmoother(),
		SpeakingTarget: 0.8,
		Jitter:         0.1,
		Floor:          0.3,
	}
}

// RemoteLevel turns a per-tick "someone remote is speaking" flag into a
// smoothed level. The SDK only exposes a boolean, so the jitter is what
// makes the bars move while the assistant talks.
type RemoteLevel struct {
	mu    sync.Mutex
	cfg   RemoteConfig
	level float64
	rand  func() float64 // Uniform in [0, 1)
}

// NewRemoteLevel creates a remote level at 0. A nil rnd uses math/rand/v2.
func NewRemoteLevel(cfg RemoteConfig, rnd func() float64) *RemoteLevel {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &RemoteLevel{cfg: cfg, rand: rnd}
}

// Tick advances the level by one monitoring period and returns it
func (r *RemoteLevel) Tick(speaking bool) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := 0.0
	if speaking {
		target = r.cfg.SpeakingTarget
	}

	r.level = r.cfg.Smoother.Next(r.level, target)

	if speaking {
		r.level += (r.rand()*2 - 1) * r.cfg.Jitter
		r.level = Clamp(r.level, r.cfg.Floor, 1)
	}

	return r.level
}

// Level returns the current level
func (r *RemoteLevel) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Reset drops the level to 0
func (r *RemoteLevel) Reset() {
	r.mu.Lock()
	r.level = 0
	r.mu.Unlock()
}
