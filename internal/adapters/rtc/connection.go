// Package rtc backs the session layer's PeerConnection abstraction with a
// real pion peer connection.
package rtc

import (
	"context"
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/protocol"
	"github.com/avoran/classcast/internal/session"
)

// Config selects the ICE servers for every connection built by a Factory.
type Config struct {
	STUNServers []string
}

func DefaultConfig() Config {
	return Config{STUNServers: []string{"stun:stun.l.google.com:19302"}}
}

func (c Config) webrtc() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.STUNServers}},
	}
}

// Factory returns a session.PeerFactory producing pion connections that share
// one API instance (codecs registered once, pion logs routed to zerolog).
func Factory(cfg Config) (session.PeerFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	settings := webrtc.SettingEngine{}
	settings.LoggerFactory = newLoggerFactory()
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settings),
	)
	return func() (session.PeerConnection, error) {
		pc, err := api.NewPeerConnection(cfg.webrtc())
		if err != nil {
			return nil, err
		}
		return &Connection{pc: pc}, nil
	}, nil
}

// Connection adapts one *webrtc.PeerConnection to the session layer. Trickle
// ICE: local candidates surface through OnICECandidate as they are gathered,
// remote ones are applied as they arrive.
type Connection struct {
	pc *webrtc.PeerConnection
}

func (c *Connection) OnICECandidate(fn func(protocol.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(protocol.CandidateFromPion(cand.ToJSON()))
	})
}

// OnTrack reports inbound track metadata and drains the RTP stream so the
// jitter buffers never back up. Rendering is out of scope here.
func (c *Connection) OnTrack(fn func(session.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		go drainRTP(track)
		go drainRTCP(receiver)
		fn(session.RemoteTrack{
			StreamID: track.StreamID(),
			TrackID:  track.ID(),
			Kind:     track.Kind().String(),
		})
	})
}

func (c *Connection) OnConnectionChange(fn func(session.ConnState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			fn(session.ConnConnected)
		case webrtc.PeerConnectionStateFailed:
			fn(session.ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(session.ConnClosed)
		}
	})
}

func (c *Connection) AddTrack(t webrtc.TrackLocal) (session.Sender, error) {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	go drainSenderRTCP(sender)
	return &rtpSender{sender: sender}, nil
}

func (c *Connection) CreateOffer(ctx context.Context) (protocol.SDP, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return protocol.SDP{}, err
	}
	return protocol.SDPFromPion(offer), nil
}

func (c *Connection) AcceptOffer(ctx context.Context, offer protocol.SDP) (protocol.SDP, error) {
	desc, err := offer.ToPion()
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return protocol.SDP{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return protocol.SDP{}, err
	}
	return protocol.SDPFromPion(answer), nil
}

func (c *Connection) AcceptAnswer(answer protocol.SDP) error {
	desc, err := answer.ToPion()
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(cand protocol.Candidate) error {
	return c.pc.AddICECandidate(cand.ToPion())
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

type rtpSender struct {
	sender *webrtc.RTPSender
}

func (s *rtpSender) Kind() string {
	if t := s.sender.Track(); t != nil {
		return t.Kind().String()
	}
	return ""
}

func (s *rtpSender) ReplaceTrack(t webrtc.TrackLocal) error {
	return s.sender.ReplaceTrack(t)
}

func drainRTP(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "webrtc").Str("track_id", track.ID()).Msg("rtp read ended")
			}
			return
		}
	}
}

func drainRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
	}
}

func drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
