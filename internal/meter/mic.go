package meter

import "math"

// DefaultMicGain scales mean absolute amplitude so normal speech fills the meter
const DefaultMicGain = 10.0

// MicLevel returns the mean absolute amplitude of one buffer of signed
// 16-bit samples, normalized to [0, 1], times gain, capped at 1.
func MicLevel(samples []int16, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	avg := sum / float64(len(samples)) / 32768.0

	return Clamp(avg*gain, 0, 1)
}
