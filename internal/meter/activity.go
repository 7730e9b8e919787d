package meter

import (
	"sync"
	"time"
)

// ActivityConfig tunes the speech activity flag
type ActivityConfig struct {
	Threshold float64       // Level above which a buffer counts as speech
	Hangover  time.Duration // Quiet time needed before activity ends
}

// DefaultActivityConfig returns threshold 0.1 with a 300ms hangover
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{Threshold: 0.1, Hangover: 300 * time.Millisecond}
}

// Activity turns a stream of levels into a stable speaking flag. A single
// loud buffer starts activity; it ends only after Hangover of quiet.
type Activity struct {
	mu                 sync.Mutex
	cfg                ActivityConfig
	active             bool
	silenceDuration    time.Duration
	speechDuration     time.Duration
	consecutiveSpeech  int
	consecutiveSilence int
}

// NewActivity creates an inactive detector
func NewActivity(cfg ActivityConfig) *Activity {
	return &Activity{cfg: cfg}
}

// Process feeds one level covering elapsed time and returns whether speech is active
func (a *Activity) Process(level float64, elapsed time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if level > a.cfg.Threshold {
		a.consecutiveSpeech++
		a.consecutiveSilence = 0
		a.speechDuration += elapsed
		a.silenceDuration = 0
		a.active = true
		return true
	}

	a.consecutiveSilence++
	a.consecutiveSpeech = 0
	a.silenceDuration += elapsed
	if a.silenceDuration >= a.cfg.Hangover {
		a.active = false
		a.speechDuration = 0
	}
	return a.active
}

// IsActive returns the current flag without feeding a level
func (a *Activity) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Reset clears all state
func (a *Activity) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.silenceDuration = 0
	a.speechDuration = 0
	a.consecutiveSpeech = 0
	a.consecutiveSilence = 0
}

// Stats returns the current counters
func (a *Activity) Stats() ActivityStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActivityStats{
		SilenceDuration:    a.silenceDuration,
		SpeechDuration:     a.speechDuration,
		ConsecutiveSilence: a.consecutiveSilence,
		ConsecutiveSpeech:  a.consecutiveSpeech,
		Active:             a.active,
	}
}

// ActivityStats holds activity counters
type ActivityStats struct {
	SilenceDuration    time.Duration
	SpeechDuration     time.Duration
	ConsecutiveSilence int
	ConsecutiveSpeech  int
	Active             bool
}
