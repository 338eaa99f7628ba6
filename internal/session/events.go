package session

import "github.com/avoran/classcast/internal/protocol"

// EventKind tags the high-level state changes the orchestrator republishes
// to its consumer (the UI layer). The consumer communicates back only
// through the orchestrator's public methods, never shared state.
type EventKind int

const (
	// EventRosterUpdated carries the latest hub roster snapshot.
	EventRosterUpdated EventKind = iota
	// EventRemoteTrack announces an inbound media track from a peer.
	EventRemoteTrack
	// EventStreamRemoved tells the UI to drop a peer's rendering surface;
	// fired on leave, failure and supersede alike.
	EventStreamRemoved
	// EventPeerConnected fires when a peer link reaches the connected state.
	EventPeerConnected
	// EventChat delivers one room chat message (including the local echo).
	EventChat
	// EventHandRaised surfaces a student question on the teacher side.
	EventHandRaised
	// EventJoinRequest surfaces a waiting-room request on the teacher side.
	EventJoinRequest
	EventWaitingForTeacher
	EventWaitingForApproval
	EventJoinApproved
	EventJoinRejected
	EventTeacherLeft
	EventForceMuted
	EventForceRemoved
	EventScreenShareStarted
	EventScreenShareStopped
	// EventSessionClosed is the final event before the event channel closes.
	EventSessionClosed
)

// Event is the orchestrator-to-UI message. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind EventKind

	Peer    string
	Info    *protocol.PeerInfo
	Track   *RemoteTrack
	Roster  *protocol.Roster
	Chat    *protocol.ChatMessage
	Hand    *protocol.HandRaised
	Request *protocol.JoinRequest
	Message string
}
