// Package hub implements the signaling hub: an in-memory registry of rooms
// and participants that relays negotiation and control messages between
// exactly the right connections. It never inspects negotiation payloads
// beyond the routing fields.
package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

// Registry is the single room table of the process. All membership mutations
// are serialized behind one mutex; no operation blocks on I/O while holding
// it beyond non-blocking sends into per-connection queues.
type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*room
	// conns tracks which rooms a connection appears in. Expected to be one,
	// but leave handling must not assume it.
	conns map[domain.ConnID]map[domain.RoomID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*room),
		conns: make(map[domain.ConnID]map[domain.RoomID]struct{}),
	}
}

func (g *Registry) getOrCreateRoom(id domain.RoomID) *room {
	r, ok := g.rooms[id]
	if !ok {
		r = newRoom(id)
		g.rooms[id] = r
		log.Info().Str("module", "hub").Str("room", string(id)).Msg("room created")
	}
	return r
}

func (g *Registry) associate(connID domain.ConnID, roomID domain.RoomID) {
	set, ok := g.conns[connID]
	if !ok {
		set = make(map[domain.RoomID]struct{})
		g.conns[connID] = set
	}
	set[roomID] = struct{}{}
}

func (g *Registry) dissociate(connID domain.ConnID, roomID domain.RoomID) {
	if set, ok := g.conns[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(g.conns, connID)
		}
	}
}

func (g *Registry) dropRoomIfEmpty(r *room) {
	if r.empty() {
		delete(g.rooms, r.id)
		log.Info().Str("module", "hub").Str("room", string(r.id)).Msg("room deleted (empty)")
	}
}

// send encodes and pushes one frame, dropping it if the connection's queue is
// full or gone. Routing failures never propagate to the caller.
func (g *Registry) send(p *participant, t protocol.EventType, v any) {
	frame, err := protocol.Encode(t, v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Str("event", string(t)).Msg("encode")
		return
	}
	if err := p.sender.TrySend(frame); err != nil {
		log.Debug().Str("module", "hub").
			Str("to", string(p.connID)).Str("event", string(t)).Msg("frame dropped")
	}
}

func (g *Registry) pushRoster(r *room) {
	ros := r.roster()
	if r.host != nil {
		g.send(r.host, protocol.EventParticipantsUpdated, ros)
	}
	for _, p := range r.students {
		g.send(p, protocol.EventParticipantsUpdated, ros)
	}
	for _, p := range r.waiting {
		g.send(p, protocol.EventParticipantsUpdated, ros)
	}
}

func (g *Registry) broadcast(r *room, except domain.ConnID, t protocol.EventType, v any) {
	if r.host != nil && r.host.connID != except {
		g.send(r.host, t, v)
	}
	for id, p := range r.students {
		if id == except {
			continue
		}
		g.send(p, t, v)
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// JoinTeacher admits a teacher as the room host. A second teacher joining an
// already-hosted room is treated as a host reconnect: the new connection
// supersedes the old host slot and the stale connection loses its room
// association so its eventual disconnect cannot clear the new host.
func (g *Registry) JoinTeacher(connID domain.ConnID, roomID domain.RoomID, id domain.Identity, sender Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.getOrCreateRoom(roomID)
	if r.host != nil && r.host.connID != connID {
		log.Info().Str("module", "hub").Str("room", string(roomID)).
			Str("old", string(r.host.connID)).Str("new", string(connID)).
			Msg("host superseded")
		g.dissociate(r.host.connID, roomID)
	}
	p := &participant{connID: connID, role: domain.RoleTeacher, identity: id, sender: sender, joinedAt: time.Now()}
	r.host = p
	g.associate(connID, roomID)

	// Replay pending join requests so a late-joining teacher sees the queue.
	for _, w := range r.waitingInOrder() {
		g.send(p, protocol.EventJoinRequest, protocol.JoinRequest{
			SocketID: string(w.connID),
			UserID:   w.identity.UserID,
			UserName: w.identity.UserName,
			Time:     now(),
		})
	}

	g.send(p, protocol.EventExistingStudents, r.othersFor(connID))
	g.broadcast(r, connID, protocol.EventStudentJoined, p.peerInfo())
	g.pushRoster(r)
	log.Info().Str("module", "hub").Str("sid", string(connID)).
		Str("room", string(roomID)).Str("name", id.UserName).Msg("teacher joined")
}

// RequestJoin places a student in the waiting room and notifies the host, or
// tells the student the teacher has not arrived yet.
func (g *Registry) RequestJoin(connID domain.ConnID, roomID domain.RoomID, id domain.Identity, sender Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.getOrCreateRoom(roomID)
	p := &participant{connID: connID, role: domain.RoleStudent, identity: id, sender: sender, joinedAt: time.Now()}
	r.addWaiting(p)
	g.associate(connID, roomID)

	if r.host != nil {
		g.send(r.host, protocol.EventJoinRequest, protocol.JoinRequest{
			SocketID: string(connID),
			UserID:   id.UserID,
			UserName: id.UserName,
			Time:     now(),
		})
		g.send(p, protocol.EventWaitingForApproval, nil)
	} else {
		g.send(p, protocol.EventWaitingForTeacher, nil)
	}
	log.Info().Str("module", "hub").Str("sid", string(connID)).
		Str("room", string(roomID)).Str("name", id.UserName).Msg("join requested")
}

// Accept moves a waiting student into the participant set. Only the current
// host may accept; anything else is silently ignored.
func (g *Registry) Accept(teacher domain.ConnID, roomID domain.RoomID, student domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || !r.isHost(teacher) {
		log.Warn().Str("module", "hub").Str("sid", string(teacher)).
			Str("room", string(roomID)).Msg("accept from non-host ignored")
		return
	}
	p, ok := r.removeWaiting(student)
	if !ok {
		return
	}
	r.students[student] = p

	g.send(p, protocol.EventJoinApproved, protocol.JoinApproved{
		RoomID:  string(roomID),
		Message: "You have been admitted to the class",
	})
	g.send(p, protocol.EventExistingStudents, r.othersFor(student))
	g.broadcast(r, student, protocol.EventStudentJoined, p.peerInfo())
	g.pushRoster(r)
	log.Info().Str("module", "hub").Str("sid", string(student)).
		Str("room", string(roomID)).Msg("student accepted")
}

// Reject removes a waiting student and tells them so.
func (g *Registry) Reject(teacher domain.ConnID, roomID domain.RoomID, student domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || !r.isHost(teacher) {
		log.Warn().Str("module", "hub").Str("sid", string(teacher)).
			Str("room", string(roomID)).Msg("reject from non-host ignored")
		return
	}
	p, ok := r.removeWaiting(student)
	if !ok {
		return
	}
	g.dissociate(student, roomID)
	g.send(p, protocol.EventJoinRejected, protocol.JoinRejected{
		Message: "Your request to join was denied by the host",
	})
	g.pushRoster(r)
	g.dropRoomIfEmpty(r)
}

// JoinStudent handles a direct join-room from a student. Approved students
// (re-announcing after a transport reconnect is a fresh connection, so in
// practice: students already moved to the participant set) proceed; anyone
// else is routed back through the waiting room.
func (g *Registry) JoinStudent(connID domain.ConnID, roomID domain.RoomID, id domain.Identity, sender Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.getOrCreateRoom(roomID)
	if _, ok := r.students[connID]; !ok {
		// Not approved: same path as request-join.
		p := &participant{connID: connID, role: domain.RoleStudent, identity: id, sender: sender, joinedAt: time.Now()}
		r.addWaiting(p)
		g.associate(connID, roomID)
		g.send(p, protocol.EventWaitingForApproval, nil)
		if r.host != nil {
			g.send(r.host, protocol.EventJoinRequest, protocol.JoinRequest{
				SocketID: string(connID),
				UserID:   id.UserID,
				UserName: id.UserName,
				Time:     now(),
			})
		}
		return
	}

	p := r.students[connID]
	p.identity = id
	g.send(p, protocol.EventExistingStudents, r.othersFor(connID))
	g.broadcast(r, connID, protocol.EventStudentJoined, p.peerInfo())
	g.pushRoster(r)
	log.Info().Str("module", "hub").Str("sid", string(connID)).
		Str("room", string(roomID)).Msg("student joined")
}

// relayTarget resolves the room and target for a point-to-point negotiation
// message, enforcing that the sender is an approved participant.
func (g *Registry) relayTarget(sender domain.ConnID, target domain.ConnID) (*participant, bool) {
	set, ok := g.conns[sender]
	if !ok {
		return nil, false
	}
	for roomID := range set {
		r, ok := g.rooms[roomID]
		if !ok || !r.approved(sender) {
			continue
		}
		if p, ok := r.member(target); ok {
			return p, true
		}
	}
	return nil, false
}

// RelayOffer forwards an SDP offer to its target, stamping the sender.
// Unapproved senders and departed targets are dropped silently: the sender
// will learn about a departed target from the leave notification.
func (g *Registry) RelayOffer(sender domain.ConnID, msg protocol.Offer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, ok := g.relayTarget(sender, domain.ConnID(msg.To))
	if !ok {
		log.Debug().Str("module", "hub").Str("from", string(sender)).Str("to", msg.To).Msg("offer dropped")
		return
	}
	if msg.UserInfo == nil {
		if set, ok := g.conns[sender]; ok {
			for roomID := range set {
				if r, ok := g.rooms[roomID]; ok {
					if p, ok := r.member(sender); ok {
						info := p.peerInfo()
						msg.UserInfo = &info
						break
					}
				}
			}
		}
	}
	msg.From = string(sender)
	msg.To = ""
	g.send(target, protocol.EventOffer, msg)
}

func (g *Registry) RelayAnswer(sender domain.ConnID, msg protocol.Answer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, ok := g.relayTarget(sender, domain.ConnID(msg.To))
	if !ok {
		log.Debug().Str("module", "hub").Str("from", string(sender)).Str("to", msg.To).Msg("answer dropped")
		return
	}
	msg.From = string(sender)
	msg.To = ""
	g.send(target, protocol.EventAnswer, msg)
}

func (g *Registry) RelayCandidate(sender domain.ConnID, msg protocol.ICECandidate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, ok := g.relayTarget(sender, domain.ConnID(msg.To))
	if !ok {
		log.Debug().Str("module", "hub").Str("from", string(sender)).Str("to", msg.To).Msg("candidate dropped")
		return
	}
	msg.From = string(sender)
	msg.To = ""
	g.send(target, protocol.EventICECandidate, msg)
}

// BroadcastChat fans a chat message out to the whole room, sender included.
func (g *Registry) BroadcastChat(sender domain.ConnID, msg protocol.ChatMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(sender) {
		if !r.approved(sender) {
			continue
		}
		if r.host != nil {
			g.send(r.host, protocol.EventChatMessage, msg)
		}
		for _, p := range r.students {
			g.send(p, protocol.EventChatMessage, msg)
		}
	}
}

// NotifyScreenShare tells everyone else in the sender's room that screen
// sharing started or stopped.
func (g *Registry) NotifyScreenShare(sender domain.ConnID, started bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(sender) {
		p, ok := r.member(sender)
		if !ok {
			continue
		}
		event := protocol.EventScreenShareStopped
		note := protocol.ScreenShare{SocketID: string(sender)}
		if started {
			event = protocol.EventScreenShareStarted
			note.UserName = p.identity.UserName
		}
		g.broadcast(r, sender, event, note)
	}
}

// RaiseHand forwards a student question to the host only. Resolution is
// host-side UI state and never comes back through the hub.
func (g *Registry) RaiseHand(sender domain.ConnID, question string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(sender) {
		p, ok := r.students[sender]
		if !ok || r.host == nil {
			continue
		}
		g.send(r.host, protocol.EventHandRaised, protocol.HandRaised{
			SocketID: string(sender),
			UserID:   p.identity.UserID,
			UserName: p.identity.UserName,
			Question: question,
			Time:     now(),
		})
	}
}

// Mute delivers a host-only force-mute to the target student.
func (g *Registry) Mute(teacher domain.ConnID, target domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(teacher) {
		if !r.isHost(teacher) {
			continue
		}
		if p, ok := r.students[target]; ok {
			g.send(p, protocol.EventForceMute, protocol.Moderated{
				By:     string(teacher),
				ByName: r.host.identity.UserName,
			})
		}
	}
}

// Remove ejects a student from the room on the host's behalf: the target is
// told, the room sees a student-left, and the roster is recomputed. The
// connection itself stays open so the student may join another room.
func (g *Registry) Remove(teacher domain.ConnID, target domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(teacher) {
		if !r.isHost(teacher) {
			continue
		}
		p, inRoom := r.students[target]
		if !inRoom {
			if w, ok := r.removeWaiting(target); ok {
				p = w
			}
		}
		if p == nil {
			continue
		}
		delete(r.students, target)
		r.removeWaiting(target)
		g.dissociate(target, r.id)

		g.send(p, protocol.EventForceRemove, protocol.Moderated{
			By:     string(teacher),
			ByName: r.host.identity.UserName,
		})
		g.broadcast(r, target, protocol.EventStudentLeft, protocol.PeerLeft{
			SocketID: string(target),
			UserID:   p.identity.UserID,
			UserName: p.identity.UserName,
			Role:     domain.RoleStudent,
		})
		g.pushRoster(r)
		g.dropRoomIfEmpty(r)
	}
}

// Leave removes a disconnected participant from every room it appears in and
// announces the departure, tagged with whether the leaver was the host.
func (g *Registry) Leave(connID domain.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.roomsOf(connID) {
		if r.isHost(connID) {
			hostInfo := r.host.identity
			r.host = nil
			g.broadcast(r, connID, protocol.EventTeacherLeft, protocol.PeerLeft{
				SocketID: string(connID),
				UserID:   hostInfo.UserID,
				UserName: hostInfo.UserName,
				Role:     domain.RoleTeacher,
			})
			for _, w := range r.waitingInOrder() {
				g.send(w, protocol.EventWaitingForTeacher, nil)
			}
		} else if p, ok := r.students[connID]; ok {
			delete(r.students, connID)
			g.broadcast(r, connID, protocol.EventStudentLeft, protocol.PeerLeft{
				SocketID: string(connID),
				UserID:   p.identity.UserID,
				UserName: p.identity.UserName,
				Role:     domain.RoleStudent,
			})
		} else {
			r.removeWaiting(connID)
		}
		g.pushRoster(r)
		g.dropRoomIfEmpty(r)
	}
	delete(g.conns, connID)
	log.Info().Str("module", "hub").Str("sid", string(connID)).Msg("connection left")
}

func (g *Registry) roomsOf(connID domain.ConnID) []*room {
	set, ok := g.conns[connID]
	if !ok {
		return nil
	}
	out := make([]*room, 0, len(set))
	for roomID := range set {
		if r, ok := g.rooms[roomID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// RoomCount reports how many rooms currently exist (health endpoint).
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// ConnCount reports how many connections are associated with any room.
func (g *Registry) ConnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// RosterOf returns the current snapshot for a room, primarily for tests and
// the health surface. The bool reports whether the room exists.
func (g *Registry) RosterOf(roomID domain.RoomID) (protocol.Roster, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return protocol.Roster{}, false
	}
	return r.roster(), true
}
