package calibrate

import (
	"math"
	"sort"

	timestats "github.com/cwbudde/algo-dsp/stats/time"
	"github.com/gymmando/voice-client/internal/meter"
)

// Bounds for recommended settings
const (
	TargetSpeechLevel = 0.5

	minGain      = 1.0
	maxGain      = 200.0
	minThreshold = 0.01
	maxThreshold = 0.9
)

// LevelStatistics summarizes unit-gain buffer levels (mean absolute amplitude)
type LevelStatistics struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
	P5          float64 `json:"p5"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
}

// Analyze computes statistics over per-buffer levels
func Analyze(levels []float64) LevelStatistics {
	if len(levels) == 0 {
		return LevelStatistics{}
	}

	st := timestats.Calculate(levels)

	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)

	return LevelStatistics{
		Min:         st.Min,
		Max:         st.Max,
		Avg:         st.DC,
		P5:          percentile(sorted, 5),
		P95:         percentile(sorted, 95),
		SampleCount: st.Length,
	}
}

// percentile uses linear interpolation between closest ranks
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Recommendation is the result of a calibration run
type Recommendation struct {
	LevelGain         float64
	SpeakingThreshold float64
	// Overlap is set when background noise reaches speech levels
	Overlap bool
}

// Recommend picks a gain that maps the average speech level to
// TargetSpeechLevel and a threshold halfway between loud background and
// quiet speech, both after gain.
func Recommend(background, speech LevelStatistics) Recommendation {
	gain := meter.DefaultMicGain
	if speech.Avg > 0 {
		gain = meter.Clamp(TargetSpeechLevel/speech.Avg, minGain, maxGain)
	}

	bg := background.P95 * gain
	sp := speech.P5 * gain

	rec := Recommendation{LevelGain: gain}
	if sp > bg {
		rec.SpeakingThreshold = (bg + sp) / 2
	} else {
		rec.Overlap = true
		rec.SpeakingThreshold = bg * 1.5
	}
	rec.SpeakingThreshold = meter.Clamp(rec.SpeakingThreshold, minThreshold, maxThreshold)
	return rec
}
