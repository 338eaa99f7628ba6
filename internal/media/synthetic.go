package media

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// SyntheticSource generates timed RTP packets with a fixed payload. It stands
// in for a capture pipeline on headless clients and in tests.
type SyntheticSource struct {
	interval time.Duration
	payload  []byte
	clock    uint32 // RTP timestamp increment per packet

	seq  uint16
	ts   uint32
	ssrc uint32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewSyntheticSource(interval time.Duration, payloadSize int, clockStep uint32) *SyntheticSource {
	return &SyntheticSource{
		interval: interval,
		payload:  make([]byte, payloadSize),
		clock:    clockStep,
		seq:      uint16(rand.Intn(1 << 16)),
		ssrc:     rand.Uint32(),
		done:     make(chan struct{}),
	}
}

func (s *SyntheticSource) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-s.done:
		return nil, ErrTrackClosed
	case <-time.After(s.interval):
	}

	s.seq++
	s.ts += s.clock
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: s.payload,
	}, nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// SyntheticDevice fabricates camera and screen sources. Screen acquisition
// can be forced to fail to exercise the denied-capture path.
type SyntheticDevice struct {
	DenyScreen bool
}

func (d *SyntheticDevice) AcquireCamera(ctx context.Context) (*Stream, error) {
	streamID := "cam-" + uuid.NewString()
	audio, err := NewTrack(webrtc.RTPCodecTypeAudio.String(), streamID,
		NewSyntheticSource(20*time.Millisecond, 160, 960))
	if err != nil {
		return nil, err
	}
	video, err := NewTrack(webrtc.RTPCodecTypeVideo.String(), streamID,
		NewSyntheticSource(33*time.Millisecond, 1200, 3000))
	if err != nil {
		audio.Close()
		return nil, err
	}
	return &Stream{ID: streamID, Audio: audio, Video: video}, nil
}

func (d *SyntheticDevice) AcquireScreen(ctx context.Context) (*Track, error) {
	if d.DenyScreen {
		return nil, ErrCaptureUnavailable
	}
	return NewTrack(webrtc.RTPCodecTypeVideo.String(), "screen-"+uuid.NewString(),
		NewSyntheticSource(33*time.Millisecond, 1200, 3000))
}
