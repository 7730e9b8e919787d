package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/meter"
)

const (
	// Capture parameters. 48kHz mono is what the Opus track publishes, so
	// no resampling happens between the microphone and the room.
	SampleRate    = 48000
	Channels      = 1
	FrameMS       = 20
	FrameSamples  = SampleRate * FrameMS / 1000 // 960
	Format        = malgo.FormatS16
	BitsPerSample = 16

	// DefaultBufferFrames is the device period; one level is computed per period
	DefaultBufferFrames = 1024
)

// Frame is 20ms of mono PCM ready for the encoder
type Frame struct {
	Samples    []int16
	SequenceID uint64
	Timestamp  time.Time
}

// LevelHandler receives the level of every device buffer and the audio time it covers
type LevelHandler func(level float64, elapsed time.Duration)

// Options configures a Capturer
type Options struct {
	DeviceName    string  // Empty = default device
	Gain          float64 // Mean-absolute multiplier, see meter.MicLevel
	BufferFrames  int     // Device period in frames
	FrameQueueLen int     // How many 20ms frames can wait for the encoder
}

// Capturer taps the microphone through malgo. It publishes the level of each
// buffer and re-frames the PCM into 20ms frames for the room.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	deviceName string
	gain       float64
	periodSize int
	isRunning  bool
	mu         sync.Mutex
	logger     *logger.ContextLogger

	frames   chan Frame
	closed   bool
	onLevel  LevelHandler
	levelBit atomic.Uint64

	sequenceID uint64
	pending    []int16
}

// New creates a capturer and initializes the malgo context
func New(opts Options, log *logger.Logger) (*Capturer, error) {
	c := newCapturer(opts, log)

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	c.ctx = ctx

	return c, nil
}

// newCapturer builds the device-independent part, used directly by tests
func newCapturer(opts Options, log *logger.Logger) *Capturer {
	if opts.Gain <= 0 {
		opts.Gain = meter.DefaultMicGain
	}
	if opts.BufferFrames <= 0 {
		opts.BufferFrames = DefaultBufferFrames
	}
	if opts.FrameQueueLen <= 0 {
		opts.FrameQueueLen = 50 // 1 second
	}

	return &Capturer{
		deviceName: opts.DeviceName,
		gain:       opts.Gain,
		periodSize: opts.BufferFrames,
		logger:     log.With("audio"),
		frames:     make(chan Frame, opts.FrameQueueLen),
		pending:    make([]int16, 0, FrameSamples*2),
	}
}

// SetLevelHandler registers a callback run on the audio thread for every buffer
func (c *Capturer) SetLevelHandler(fn LevelHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevel = fn
}

// Devices lists the names of the available capture devices
func (c *Capturer) Devices() ([]string, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDefault != 0 {
			name += " [DEFAULT]"
		}
		names = append(names, name)
	}
	return names, nil
}

// Start begins capturing from the configured microphone
func (c *Capturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("capturer already running")
	}
	if c.closed {
		return fmt.Errorf("capturer closed")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)

	if c.deviceName != "" {
		infos, err := c.ctx.Devices(malgo.Capture)
		found := false
		if err == nil {
			for _, info := range infos {
				if info.Name() == c.deviceName {
					deviceConfig.Capture.DeviceID = info.ID.Pointer()
					found = true
					break
				}
			}
		}
		if found {
			c.logger.Info("Using specified device: %s", c.deviceName)
		} else {
			c.logger.Warn("Device '%s' not found, using default", c.deviceName)
		}
	} else {
		c.logger.Debug("Using default audio device")
	}

	deviceConfig.Capture.Format = Format
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate
	deviceConfig.PeriodSizeInFrames = uint32(c.periodSize)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, _ uint32) {
			c.process(pSample)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device

	if device.SampleRate() != SampleRate {
		c.logger.Warn("Device is using %d Hz, but we requested %d Hz", device.SampleRate(), SampleRate)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		c.device = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.isRunning = true
	c.logger.InfoWithFields("Microphone capture started", map[string]interface{}{
		"sample_rate":   device.SampleRate(),
		"period_frames": c.periodSize,
	})
	return nil
}

// process handles one device buffer of little-endian s16 PCM
func (c *Capturer) process(pSample []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning || c.closed {
		return
	}

	samples := make([]int16, len(pSample)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pSample[i*2:]))
	}

	level := meter.MicLevel(samples, c.gain)
	c.levelBit.Store(math.Float64bits(level))
	if c.onLevel != nil {
		elapsed := time.Duration(len(samples)) * time.Second / SampleRate
		c.onLevel(level, elapsed)
	}

	c.pending = append(c.pending, samples...)
	for len(c.pending) >= FrameSamples {
		frame := Frame{
			Samples:    make([]int16, FrameSamples),
			SequenceID: c.sequenceID,
			Timestamp:  time.Now(),
		}
		copy(frame.Samples, c.pending[:FrameSamples])

		// Never block the audio thread
		select {
		case c.frames <- frame:
			c.sequenceID++
		default:
			c.logger.Warn("Frame queue full, dropping frame %d", c.sequenceID)
		}

		c.pending = c.pending[FrameSamples:]
	}
}

// Level returns the level of the most recent buffer
func (c *Capturer) Level() float64 {
	return math.Float64frombits(c.levelBit.Load())
}

// Frames returns the channel of 20ms frames. It is closed by Close.
func (c *Capturer) Frames() <-chan Frame {
	return c.frames
}

// Stop stops capture; the level drops to 0
func (c *Capturer) Stop() error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	device := c.device
	c.device = nil
	c.pending = c.pending[:0]
	c.mu.Unlock()

	// The data callback takes c.mu, so the device is stopped without holding it
	if device != nil {
		device.Stop()
		device.Uninit()
	}

	c.levelBit.Store(0)
	c.logger.Info("Microphone capture stopped")

	return nil
}

// Close releases all resources and closes the frame channel
func (c *Capturer) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}

	close(c.frames)
	return nil
}

// IsRunning returns whether the capturer is currently capturing
func (c *Capturer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}
