// Package protocol models the room-channel message contract between clients
// and the signaling hub. It is the single place where payload shapes are
// defined and validated; the hub never inspects negotiation payloads beyond
// the routing fields declared here.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EventType discriminates the ControlMessage union.
type EventType string

// Client -> hub events.
const (
	EventJoinRoom           EventType = "join-room"
	EventRequestJoin        EventType = "request-join"
	EventAcceptStudent      EventType = "accept-student"
	EventRejectStudent      EventType = "reject-student"
	EventOffer              EventType = "offer"
	EventAnswer             EventType = "answer"
	EventICECandidate       EventType = "ice-candidate"
	EventChatMessage        EventType = "chat-message"
	EventScreenShareStarted EventType = "screen-share-started"
	EventScreenShareStopped EventType = "screen-share-stopped"
	EventRaiseHand          EventType = "raise-hand"
	EventMuteUser           EventType = "mute-user"
	EventRemoveUser         EventType = "remove-user"
)

// Hub -> client events.
const (
	EventConnected           EventType = "connected"
	EventExistingStudents    EventType = "existing-students"
	EventStudentJoined       EventType = "student-joined"
	EventStudentLeft         EventType = "student-left"
	EventTeacherLeft         EventType = "teacher-left"
	EventWaitingForTeacher   EventType = "waiting-for-teacher"
	EventWaitingForApproval  EventType = "waiting-for-approval"
	EventJoinRequest         EventType = "join-request"
	EventJoinApproved        EventType = "join-approved"
	EventJoinRejected        EventType = "join-rejected"
	EventParticipantsUpdated EventType = "participants-updated"
	EventHandRaised          EventType = "hand-raised"
	EventForceMute           EventType = "force-mute"
	EventForceRemove         EventType = "force-remove"
	EventError               EventType = "error"
)

var (
	ErrUnknownEvent = errors.New("protocol: unknown event type")
	ErrMissingType  = errors.New("protocol: missing event type")
	ErrTrailingData = errors.New("protocol: trailing data after message")
)

// Envelope is the wire form of every ControlMessage: an explicit kind field
// plus the type-specific payload.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame strictly: unknown top-level fields and
// trailing bytes are rejected at the relay boundary.
func ParseEnvelope(frame []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, ErrTrailingData
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v, rejecting unknown fields.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: %s: empty payload", e.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("protocol: %s: %w", e.Type, err)
	}
	return nil
}

// Encode wraps a payload into an Envelope frame ready to send.
func Encode(t EventType, v any) ([]byte, error) {
	env := Envelope{Type: t}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", t, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
