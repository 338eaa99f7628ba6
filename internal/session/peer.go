// Package session implements the client-side session orchestrator: one
// instance per live classroom session, owning the local media stream and the
// full set of peer links, translating hub events into peer-connection
// lifecycle operations. Instances are never reused across sessions.
package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/avoran/classcast/internal/protocol"
)

// LinkState is the lifecycle of one PeerLink.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnState is the condensed transport-level connection signal a peer
// connection reports upward.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnFailed
	ConnClosed
)

// RemoteTrack describes an inbound track. The underlying media object stays
// owned by the transport layer; the orchestrator only keeps this reference.
type RemoteTrack struct {
	StreamID string
	TrackID  string
	Kind     string
}

// Sender is an outbound track slot on a peer connection; the track behind it
// can be swapped without renegotiation.
type Sender interface {
	Kind() string
	ReplaceTrack(t webrtc.TrackLocal) error
}

// PeerConnection abstracts the underlying peer transport so the orchestrator
// state machine is testable without a media stack. The pion-backed
// implementation lives in internal/adapters/rtc.
type PeerConnection interface {
	OnICECandidate(fn func(protocol.Candidate))
	OnTrack(fn func(RemoteTrack))
	OnConnectionChange(fn func(ConnState))

	AddTrack(t webrtc.TrackLocal) (Sender, error)
	CreateOffer(ctx context.Context) (protocol.SDP, error)
	AcceptOffer(ctx context.Context, offer protocol.SDP) (protocol.SDP, error)
	AcceptAnswer(answer protocol.SDP) error
	AddICECandidate(c protocol.Candidate) error
	Close() error
}

// PeerFactory builds one fresh PeerConnection per PeerLink.
type PeerFactory func() (PeerConnection, error)

// PeerLink is the client-local entity for one remote participant: the peer
// connection, its negotiation state, and the last known remote identity.
// A link is never reused across identities or renegotiations; an incoming
// offer always supersedes the previous link for that peer.
type PeerLink struct {
	id    string // remote connection id
	info  protocol.PeerInfo
	state LinkState
	pc    PeerConnection

	audioSender Sender
	videoSender Sender

	// remoteStream is a weak reference used for rendering; ownership of the
	// stream belongs to the media layer.
	remoteStream string
}

func (l *PeerLink) State() LinkState { return l.state }

func (l *PeerLink) Info() protocol.PeerInfo { return l.info }
