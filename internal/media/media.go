// Package media models the client's local media: RTP packet sources feeding
// local webrtc tracks. Ownership is explicit: the session orchestrator owns
// the stream, peer links only ever receive track references.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrCaptureUnavailable = errors.New("media: capture source unavailable")
	ErrTrackClosed        = errors.New("media: track closed")
)

// Source produces RTP packets for one track. ReadRTP blocks until a packet
// is available or the source ends.
type Source interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// Device acquires capture sources. Deployments plug in a real capturer
// (device pipeline, file playback); tests and the demo agent use the
// synthetic one below. Acquisition failures are reported synchronously and
// leave no state behind.
type Device interface {
	AcquireCamera(ctx context.Context) (*Stream, error)
	AcquireScreen(ctx context.Context) (*Track, error)
}

const (
	stateLive int32 = iota
	stateMuted
	stateEnded
)

// Track pairs a local RTP track with the source feeding it. A pump goroutine
// copies packets until the source ends or the track is closed.
type Track struct {
	local *webrtc.TrackLocalStaticRTP
	src   Source

	state   int32 // stateLive/stateMuted/stateEnded, accessed atomically
	mu      sync.Mutex
	onEnded func()
	done    chan struct{}
	once    sync.Once
}

// NewTrack builds a local track of the given kind fed by src and starts the
// pump.
func NewTrack(kind string, streamID string, src Source) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeAudio.String():
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	case webrtc.RTPCodecTypeVideo.String():
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	default:
		return nil, errors.New("media: unknown track kind " + kind)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, kind+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{
		local: local,
		src:   src,
		done:  make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

// Local exposes the track reference handed to peer connections. The track
// itself stays owned by this package.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Kind() string { return t.local.Kind().String() }

// OnEnded registers a callback fired when the source ends on its own (for
// screen capture: the user revoked sharing at the OS level).
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// SetMuted drops outgoing packets without stopping the source.
func (t *Track) SetMuted(muted bool) {
	if atomic.LoadInt32(&t.state) == stateEnded {
		return
	}
	if muted {
		atomic.CompareAndSwapInt32(&t.state, stateLive, stateMuted)
	} else {
		atomic.CompareAndSwapInt32(&t.state, stateMuted, stateLive)
	}
}

func (t *Track) Muted() bool { return atomic.LoadInt32(&t.state) == stateMuted }

func (t *Track) pump() {
	for {
		select {
		case <-t.done:
			return
		default:
		}
		pkt, err := t.src.ReadRTP()
		if err != nil {
			ended := atomic.SwapInt32(&t.state, stateEnded) != stateEnded
			t.mu.Lock()
			fn := t.onEnded
			t.mu.Unlock()
			if ended && fn != nil {
				fn()
			}
			return
		}
		if atomic.LoadInt32(&t.state) == stateMuted {
			continue
		}
		if err := t.local.WriteRTP(pkt); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Str("module", "media").Msg("write rtp")
		}
	}
}

// Close stops the pump and releases the source. The OnEnded callback does
// not fire for an explicit close.
func (t *Track) Close() {
	t.once.Do(func() {
		atomic.StoreInt32(&t.state, stateEnded)
		close(t.done)
		_ = t.src.Close()
	})
}

// Stream is the local camera+mic media owned by one session.
type Stream struct {
	ID    string
	Audio *Track
	Video *Track
}

// Tracks lists the non-nil tracks, audio first.
func (s *Stream) Tracks() []*Track {
	out := make([]*Track, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// Close releases every track synchronously.
func (s *Stream) Close() {
	for _, t := range s.Tracks() {
		t.Close()
	}
}
