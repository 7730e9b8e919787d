package livekit

import (
	"fmt"

	"github.com/gymmando/voice-client/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxPacketSize bounds one encoded 20ms Opus packet
const maxPacketSize = 4000

// maxFrameSamples is the longest Opus frame (120ms) at 48kHz mono
const maxFrameSamples = audio.SampleRate * 120 / 1000

// encoder turns 20ms PCM frames into Opus packets
type encoder struct {
	enc *opus.Encoder
	buf []byte
}

func newEncoder() (*encoder, error) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	return &encoder{enc: enc, buf: make([]byte, maxPacketSize)}, nil
}

// Encode returns a packet that is only valid until the next call
func (e *encoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return e.buf[:n], nil
}

// decoder turns remote Opus packets back into PCM
type decoder struct {
	dec *opus.Decoder
	pcm []int16
}

func newDecoder() (*decoder, error) {
	dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &decoder{dec: dec, pcm: make([]int16, maxFrameSamples*audio.Channels)}, nil
}

// Decode returns samples that are only valid until the next call
func (d *decoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return d.pcm[:n*audio.Channels], nil
}
