package calibrate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	timestats "github.com/cwbudde/algo-dsp/stats/time"
	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/config"
	"github.com/gymmando/voice-client/internal/logger"
)

// DefaultRecordDuration is how long each step records
const DefaultRecordDuration = 5 * time.Second

// Recorder is the microphone the wizard listens to
type Recorder interface {
	SetLevelHandler(fn audio.LevelHandler)
	Start() error
	Stop() error
	Frames() <-chan audio.Frame
}

// Recording is what one step captured
type Recording struct {
	Levels LevelStatistics
	Signal timestats.Stats
}

// Wizard runs the calibration wizard
type Wizard struct {
	rec      Recorder
	log      *logger.ContextLogger
	in       *bufio.Reader
	out      io.Writer
	duration time.Duration

	mu     sync.Mutex
	levels []float64
}

// NewWizard creates a wizard recording from rec
func NewWizard(rec Recorder, log *logger.Logger) *Wizard {
	return &Wizard{
		rec:      rec,
		log:      log.With("calibrate"),
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		duration: DefaultRecordDuration,
	}
}

// SetIO replaces stdin and stdout
func (w *Wizard) SetIO(in io.Reader, out io.Writer) {
	w.in = bufio.NewReader(in)
	w.out = out
}

// SetDuration changes how long each step records
func (w *Wizard) SetDuration(d time.Duration) {
	w.duration = d
}

// Run executes the wizard. The recommendation is written to configPath when
// autoSave is set or the user confirms.
func (w *Wizard) Run(configPath string, autoSave bool) (Recommendation, error) {
	w.println()
	w.println("🎤 Microphone Calibration")
	w.println("━━━━━━━━━━━━━━━━━━━━━━━━")
	w.println()

	w.rec.SetLevelHandler(w.onLevel)
	defer w.rec.SetLevelHandler(nil)

	// Step 1: Record background noise
	w.println("Step 1/3: Background Noise Recording")
	w.println("  Be quiet and don't speak.")
	w.prompt("  Press Enter when ready...")

	background, err := w.record()
	if err != nil {
		return Recommendation{}, fmt.Errorf("failed to record background: %w", err)
	}
	w.printf("  ✓ Done (%d buffers, %.1f dBFS RMS)\n\n", background.Levels.SampleCount, background.Signal.RMS_dB)

	// Step 2: Record speech
	w.println("Step 2/3: Speech Recording")
	w.println("  Speak normally into the microphone.")
	w.prompt("  Press Enter when ready...")

	speech, err := w.record()
	if err != nil {
		return Recommendation{}, fmt.Errorf("failed to record speech: %w", err)
	}
	w.printf("  ✓ Done (%d buffers, %.1f dBFS RMS, peak %.1f dBFS)\n\n",
		speech.Levels.SampleCount, speech.Signal.RMS_dB, speech.Signal.Peak_dB)

	if speech.Levels.SampleCount == 0 {
		return Recommendation{}, fmt.Errorf("no audio captured, check the input device")
	}

	// Step 3: Analysis
	w.println("Step 3/3: Analysis")
	w.visualizeComparison(background.Levels, speech.Levels)

	rec := Recommend(background.Levels, speech.Levels)
	w.printf("\n  📊 Recommended level_gain: %.2f\n", rec.LevelGain)
	w.printf("  📊 Recommended speaking_threshold: %.3f\n", rec.SpeakingThreshold)
	if rec.Overlap {
		w.println("  ⚠️  Background noise is as loud as your speech. Try a quieter room or move closer to the mic.")
	}
	w.println()

	save := autoSave
	if !autoSave {
		answer := w.prompt("  💾 Save to config? [Y/n] ")
		save = answer == "" || strings.EqualFold(answer, "y")
	}

	if !save {
		w.printf("  ℹ️  Not saved. Set audio.level_gain: %.2f and meter.speaking_threshold: %.3f in %s\n\n",
			rec.LevelGain, rec.SpeakingThreshold, configPath)
		return rec, nil
	}

	if err := config.UpdateAudioCalibration(configPath, rec.LevelGain, rec.SpeakingThreshold); err != nil {
		return rec, fmt.Errorf("failed to save config: %w", err)
	}
	w.log.Info("Saved calibration to %s", configPath)
	w.println("  ✓ Config updated successfully!")
	w.println()
	return rec, nil
}

func (w *Wizard) onLevel(level float64, _ time.Duration) {
	w.mu.Lock()
	w.levels = append(w.levels, level)
	w.mu.Unlock()
}

// record captures for the configured duration, collecting buffer levels and
// streaming frame samples into signal statistics
func (w *Wizard) record() (Recording, error) {
	w.mu.Lock()
	w.levels = nil
	w.mu.Unlock()

	signal := timestats.NewStreamingStats()

	if err := w.rec.Start(); err != nil {
		return Recording{}, fmt.Errorf("failed to start capture: %w", err)
	}

	w.printf("  Recording for %s...\n  ", w.duration)

	deadline := time.NewTimer(w.duration)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	frames := w.rec.Frames()
loop:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				break loop
			}
			signal.Update(toFloat(frame.Samples))
		case <-ticker.C:
			w.printf(".")
		case <-deadline.C:
			break loop
		}
	}
	w.println()

	if err := w.rec.Stop(); err != nil {
		w.log.Warn("Failed to stop capture: %v", err)
	}

	// Drain what was queued before the stop
drain:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				break drain
			}
			signal.Update(toFloat(frame.Samples))
		default:
			break drain
		}
	}

	w.mu.Lock()
	levels := append([]float64(nil), w.levels...)
	w.mu.Unlock()

	return Recording{Levels: Analyze(levels), Signal: signal.Result()}, nil
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768
	}
	return out
}

// visualizeComparison shows background vs speech levels side by side
func (w *Wizard) visualizeComparison(background, speech LevelStatistics) {
	maxVal := speech.Max
	if background.Max > maxVal {
		maxVal = background.Max
	}

	w.println()
	w.println("  Background:")
	w.printf("    Min: %s %.4f\n", visualBar(background.Min, maxVal), background.Min)
	w.printf("    Avg: %s %.4f\n", visualBar(background.Avg, maxVal), background.Avg)
	w.printf("    P95: %s %.4f\n", visualBar(background.P95, maxVal), background.P95)
	w.printf("    Max: %s %.4f\n", visualBar(background.Max, maxVal), background.Max)

	w.println()
	w.println("  Speech:")
	w.printf("    Min: %s %.4f\n", visualBar(speech.Min, maxVal), speech.Min)
	w.printf("    P5:  %s %.4f\n", visualBar(speech.P5, maxVal), speech.P5)
	w.printf("    Avg: %s %.4f\n", visualBar(speech.Avg, maxVal), speech.Avg)
	w.printf("    Max: %s %.4f\n", visualBar(speech.Max, maxVal), speech.Max)
}

// visualBar creates a simple bar chart
func visualBar(value, maxValue float64) string {
	const barWidth = 30
	if maxValue <= 0 {
		return strings.Repeat("░", barWidth)
	}
	filled := int((value / maxValue) * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func (w *Wizard) prompt(text string) string {
	fmt.Fprint(w.out, text)
	line, _ := w.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (w *Wizard) println(a ...interface{}) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...interface{}) {
	fmt.Fprintf(w.out, format, a...)
}
