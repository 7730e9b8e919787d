package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gymmando/voice-client/internal/logger"
)

// Sink accepts decoded PCM for playback
type Sink interface {
	Write(samples []int16)
	// Flush drops audio that has not been played yet
	Flush()
}

// Player plays remote audio through the default output device via oto.
// Playback starts on the first Write; oto pulls from an internal buffer.
type Player struct {
	otoCtx  *oto.Context
	player  *oto.Player
	buf     *pcmBuffer
	mu      sync.Mutex
	playing bool
	logger  *logger.ContextLogger
}

// NewPlayer opens the output device at SampleRate mono s16le
func NewPlayer(log *logger.Logger) (*Player, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	<-ready

	return &Player{
		otoCtx: otoCtx,
		buf:    newPCMBuffer(SampleRate * 2 * 2), // 2 seconds
		logger: log.With("playback"),
	}, nil
}

// Write queues samples for playback
func (p *Player) Write(samples []int16) {
	p.buf.write(samples)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing && !p.buf.isClosed() {
		p.playing = true
		p.player = p.otoCtx.NewPlayer(p.buf)
		p.player.Play()
		p.logger.Debug("Playback started")
	}
}

// Flush drops queued audio and stops the current player
func (p *Player) Flush() {
	p.buf.reset()

	p.mu.Lock()
	player := p.player
	p.player = nil
	p.playing = false
	p.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close stops playback
func (p *Player) Close() error {
	p.buf.close()

	p.mu.Lock()
	player := p.player
	p.player = nil
	p.playing = false
	p.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}

// pcmBuffer is the io.Reader oto pulls from
type pcmBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	limit  int
	closed bool
}

func newPCMBuffer(limit int) *pcmBuffer {
	b := &pcmBuffer{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pcmBuffer) write(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, s := range samples {
		b.data = binary.LittleEndian.AppendUint16(b.data, uint16(s))
	}
	// Keep latency bounded: drop the oldest audio when the buffer overflows
	if over := len(b.data) - b.limit; over > 0 {
		over += over % 2
		b.data = b.data[over:]
	}

	b.cond.Signal()
}

// Read implements io.Reader for oto.Player
func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.closed && len(b.data) == 0 {
		// Silence lets oto drain gracefully
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *pcmBuffer) reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

func (b *pcmBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *pcmBuffer) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
