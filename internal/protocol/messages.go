package protocol

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/avoran/classcast/internal/domain"
)

var (
	ErrInvalidRole   = errors.New("protocol: invalid role")
	ErrMissingTarget = errors.New("protocol: missing target connection id")
	ErrMissingSDP    = errors.New("protocol: missing sdp")
	ErrBadSDPType    = errors.New("protocol: unexpected sdp type")
)

// SDP is a JSON-friendly session description, convertible to and from the
// pion representation at the edges.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", ErrBadSDPType, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors webrtc.ICECandidateInit with stable JSON field names.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// PeerInfo identifies one remote participant as seen through the hub.
type PeerInfo struct {
	SocketID string      `json:"socketId"`
	UserID   string      `json:"userId,omitempty"`
	UserName string      `json:"userName,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
}

// JoinRoom announces room, role and identity. Teachers join directly;
// students are expected to use RequestJoin and only send JoinRoom once
// approved.
type JoinRoom struct {
	RoomID   string      `json:"roomId"`
	Role     domain.Role `json:"role"`
	UserID   string      `json:"userId"`
	UserName string      `json:"userName"`
}

func (m JoinRoom) Validate() error {
	if err := domain.RoomID(m.RoomID).Validate(); err != nil {
		return err
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	return domain.Identity{UserID: m.UserID, UserName: m.UserName}.Validate()
}

// RequestJoin puts a student into the room's waiting list.
type RequestJoin struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (m RequestJoin) Validate() error {
	if err := domain.RoomID(m.RoomID).Validate(); err != nil {
		return err
	}
	return domain.Identity{UserID: m.UserID, UserName: m.UserName}.Validate()
}

// AcceptStudent / RejectStudent are teacher-only waiting-room decisions.
type AcceptStudent struct {
	StudentSocketID string `json:"studentSocketId"`
	RoomID          string `json:"roomId"`
}

type RejectStudent struct {
	StudentSocketID string `json:"studentSocketId"`
	RoomID          string `json:"roomId"`
}

// Offer carries an SDP offer point-to-point. "To" is set by the sender,
// "From" is stamped by the hub on the way through.
type Offer struct {
	To       string    `json:"to,omitempty"`
	From     string    `json:"from,omitempty"`
	SDP      SDP       `json:"sdp"`
	UserInfo *PeerInfo `json:"userInfo,omitempty"`
}

func (m Offer) Validate() error {
	if m.To == "" {
		return ErrMissingTarget
	}
	if m.SDP.SDP == "" {
		return ErrMissingSDP
	}
	if m.SDP.Type != "offer" {
		return fmt.Errorf("%w: %q", ErrBadSDPType, m.SDP.Type)
	}
	return nil
}

type Answer struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	SDP  SDP    `json:"sdp"`
}

func (m Answer) Validate() error {
	if m.To == "" {
		return ErrMissingTarget
	}
	if m.SDP.SDP == "" {
		return ErrMissingSDP
	}
	if m.SDP.Type != "answer" {
		return fmt.Errorf("%w: %q", ErrBadSDPType, m.SDP.Type)
	}
	return nil
}

type ICECandidate struct {
	To        string    `json:"to,omitempty"`
	From      string    `json:"from,omitempty"`
	Candidate Candidate `json:"candidate"`
}

func (m ICECandidate) Validate() error {
	if m.To == "" {
		return ErrMissingTarget
	}
	if m.Candidate.Candidate == "" {
		return errors.New("protocol: empty ice candidate")
	}
	return nil
}

// ChatMessage is broadcast to the whole room, sender included. Best-effort,
// at-most-once, no persistence.
type ChatMessage struct {
	ID      string      `json:"id"`
	Sender  string      `json:"sender"`
	Message string      `json:"message"`
	Time    string      `json:"time"`
	Role    domain.Role `json:"role"`
	UserID  string      `json:"userId"`
}

// RaiseHand is sent by a student; the hub forwards it to the teacher only.
type RaiseHand struct {
	Question string `json:"question"`
}

// HandRaised is the teacher-side surface of a RaiseHand.
type HandRaised struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Question string `json:"question"`
	Time     string `json:"time"`
}

// ScreenShare notifications ride the room channel; the actual track swap
// happens on the peer connections.
type ScreenShare struct {
	SocketID string `json:"socketId"`
	UserName string `json:"userName,omitempty"`
}

// MuteUser / RemoveUser are teacher-only moderation commands.
type MuteUser struct {
	TargetSocketID string `json:"targetSocketId"`
}

type RemoveUser struct {
	TargetSocketID string `json:"targetSocketId"`
}

// Moderated is delivered to the target of a force-mute or force-remove.
type Moderated struct {
	By     string `json:"by"`
	ByName string `json:"byName"`
}

// PeerLeft announces a departed participant, tagged by event type
// (student-left vs teacher-left).
type PeerLeft struct {
	SocketID string      `json:"socketId"`
	UserID   string      `json:"userId,omitempty"`
	UserName string      `json:"userName,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
}

// JoinRequest is what a teacher sees for each waiting student.
type JoinRequest struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Time     string `json:"time"`
}

type JoinApproved struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message,omitempty"`
}

type JoinRejected struct {
	Message string `json:"message"`
}

// Roster is the hub-computed snapshot of room membership. Clients treat it as
// the single source of truth for presence.
type Roster struct {
	Teacher         string     `json:"teacher,omitempty"`
	TeacherName     string     `json:"teacherName,omitempty"`
	Students        []PeerInfo `json:"students"`
	Count           int        `json:"count"`
	WaitingStudents []PeerInfo `json:"waitingStudents"`
}

// Contains reports whether the given connection id is the teacher or one of
// the students in the snapshot. Waiting students are not yet members.
func (r Roster) Contains(connID string) bool {
	if r.Teacher == connID {
		return true
	}
	for _, s := range r.Students {
		if s.SocketID == connID {
			return true
		}
	}
	return false
}

// Connected is the first event on every new channel and tells the client the
// connection id the hub will route by. A reconnect gets a fresh one.
type Connected struct {
	SocketID string `json:"socketId"`
}

// ErrorMessage reports a rejected client message.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadPayload   = "BAD_PAYLOAD"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotApproved  = "NOT_APPROVED"
	ErrCodeUnknownType  = "UNKNOWN_TYPE"
)
