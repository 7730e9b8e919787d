package livekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gymmando/voice-client/internal/audio"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/metrics"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const microphoneTrackName = "microphone"

// FrameSource supplies 20ms microphone frames
type FrameSource interface {
	Frames() <-chan audio.Frame
}

// SDKDialer joins LiveKit rooms with the server SDK. Microphone frames come
// from Source; remote audio is decoded into Sink when it is set.
type SDKDialer struct {
	Source  FrameSource
	Sink    audio.Sink
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Dial connects to url with token
func (d *SDKDialer) Dial(ctx context.Context, url, token string, cb Callbacks) (Room, error) {
	r := &sdkRoom{
		sink:    d.Sink,
		metrics: d.Metrics,
		logger:  d.Logger.With("room"),
		stop:    make(chan struct{}),
	}

	callback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: r.onTrackSubscribed,
		},
		OnDisconnected: func() {
			if !r.closing() && cb.OnDisconnected != nil {
				cb.OnDisconnected()
			}
		},
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(url, token, callback, lksdk.WithAutoSubscribe(true))
		ch <- result{room, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// Tear down a late join in the background
		go func() {
			if late := <-ch; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	r.room = res.room

	track, err := lksdk.NewLocalTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: audio.SampleRate,
		Channels:  audio.Channels,
	})
	if err != nil {
		r.room.Disconnect()
		return nil, fmt.Errorf("failed to create microphone track: %w", err)
	}
	r.track = track

	enc, err := newEncoder()
	if err != nil {
		r.room.Disconnect()
		return nil, err
	}

	if d.Source != nil {
		go r.pumpMicrophone(d.Source.Frames(), enc)
	}

	r.logger.InfoWithFields("Joined room", map[string]interface{}{
		"room":         r.room.Name(),
		"participants": len(r.room.GetRemoteParticipants()),
	})
	return r, nil
}

// sdkRoom adapts *lksdk.Room to Room
type sdkRoom struct {
	room    *lksdk.Room
	track   *lksdk.LocalTrack
	sink    audio.Sink
	metrics *metrics.Metrics
	logger  *logger.ContextLogger

	mu       sync.Mutex
	pub      *lksdk.LocalTrackPublication
	enabled  bool
	stop     chan struct{}
	isClosed bool
}

func (r *sdkRoom) RemoteSpeaking() bool {
	for _, p := range r.room.GetRemoteParticipants() {
		if p.IsSpeaking() {
			return true
		}
	}
	return false
}

// SetMicrophoneEnabled publishes the microphone the first time it is
// enabled. Later calls mute and unmute the same publication.
func (r *sdkRoom) SetMicrophoneEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled == r.enabled || r.isClosed {
		return nil
	}

	if r.pub == nil {
		if !enabled {
			r.enabled = false
			return nil
		}
		pub, err := r.room.LocalParticipant.PublishTrack(r.track, &lksdk.TrackPublicationOptions{
			Name:   microphoneTrackName,
			Source: livekit.TrackSource_MICROPHONE,
		})
		if err != nil {
			return fmt.Errorf("failed to publish microphone: %w", err)
		}
		r.pub = pub
		r.enabled = true
		r.logger.Debug("Microphone published")
		return nil
	}

	r.pub.SetMuted(!enabled)
	r.enabled = enabled
	r.logger.Debug("Microphone muted=%v", !enabled)
	return nil
}

// Disconnect unpublishes the microphone and leaves the room. Safe to call twice.
func (r *sdkRoom) Disconnect() {
	r.mu.Lock()
	if r.isClosed {
		r.mu.Unlock()
		return
	}
	r.isClosed = true
	close(r.stop)
	pub := r.pub
	r.pub = nil
	r.enabled = false
	r.mu.Unlock()

	if pub != nil {
		if err := r.room.LocalParticipant.UnpublishTrack(pub.SID()); err != nil {
			r.logger.Debug("Ignoring unpublish error: %v", err)
		}
	}
	r.room.Disconnect()
}

func (r *sdkRoom) closing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isClosed
}

func (r *sdkRoom) publishing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// pumpMicrophone drains the capturer for the room's lifetime and writes
// encoded frames while the microphone is published
func (r *sdkRoom) pumpMicrophone(frames <-chan audio.Frame, enc *encoder) {
	const frameDuration = audio.FrameMS * time.Millisecond

	for {
		select {
		case <-r.stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if !r.publishing() {
				continue
			}

			packet, err := enc.Encode(frame.Samples)
			if err != nil {
				r.metrics.RecordFrameDropped()
				r.logger.Debug("Dropping frame %d: %v", frame.SequenceID, err)
				continue
			}
			if err := r.track.WriteSample(media.Sample{Data: packet, Duration: frameDuration}, nil); err != nil {
				r.metrics.RecordFrameDropped()
				r.logger.Debug("Failed to write frame %d: %v", frame.SequenceID, err)
				continue
			}
			r.metrics.RecordFramePublished()
		}
	}
}

func (r *sdkRoom) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	r.logger.InfoWithFields("Subscribed to remote audio", map[string]interface{}{
		"participant": rp.Identity(),
		"track":       pub.SID(),
		"codec":       track.Codec().MimeType,
	})

	if r.sink == nil {
		go drainTrack(track)
		return
	}

	dec, err := newDecoder()
	if err != nil {
		r.logger.Error("Remote audio disabled: %v", err)
		go drainTrack(track)
		return
	}
	go r.playTrack(track, dec)
}

// playTrack decodes a remote track until it ends
func (r *sdkRoom) playTrack(track *webrtc.TrackRemote, dec *decoder) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debug("Remote track %s ended: %v", track.ID(), err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm, err := dec.Decode(pkt.Payload)
		if err != nil {
			r.logger.Debug("Skipping undecodable packet: %v", err)
			continue
		}
		r.sink.Write(pcm)
		r.metrics.RecordFramePlayed()
	}
}

// drainTrack keeps the receiver flowing when audio is not played
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
