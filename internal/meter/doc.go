// Package meter holds the level arithmetic behind the waveform: asymmetric
// attack/decay smoothing, the remote speaking level, microphone buffer
// levels, trail decay and a hangover-based speech activity flag.
//
// Every level is a float64 in [0, 1]. Nothing in this package blocks or
// spawns goroutines; callers own the timing.
package meter
