package hub

import (
	"time"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

// Sender is the outbound half of a participant's connection. Owned by the
// signal adapter; the registry only pushes frames into it and never closes it.
type Sender interface {
	TrySend(frame []byte) error
}

type participant struct {
	connID   domain.ConnID
	role     domain.Role
	identity domain.Identity
	sender   Sender
	joinedAt time.Time
}

func (p *participant) peerInfo() protocol.PeerInfo {
	return protocol.PeerInfo{
		SocketID: string(p.connID),
		UserID:   p.identity.UserID,
		UserName: p.identity.UserName,
		Role:     p.role,
	}
}

// room is the mutable membership state of one classroom. All access goes
// through the Registry mutex; room itself has no locking.
type room struct {
	id        domain.RoomID
	host      *participant                   // nil until a teacher joins
	students  map[domain.ConnID]*participant // approved students
	waiting   map[domain.ConnID]*participant // students pending approval
	waitOrder []domain.ConnID                // arrival order for request replay
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:       id,
		students: make(map[domain.ConnID]*participant),
		waiting:  make(map[domain.ConnID]*participant),
	}
}

func (r *room) empty() bool {
	return r.host == nil && len(r.students) == 0 && len(r.waiting) == 0
}

func (r *room) isHost(connID domain.ConnID) bool {
	return r.host != nil && r.host.connID == connID
}

// approved reports whether connID may relay negotiation messages in this room.
func (r *room) approved(connID domain.ConnID) bool {
	if r.isHost(connID) {
		return true
	}
	_, ok := r.students[connID]
	return ok
}

func (r *room) member(connID domain.ConnID) (*participant, bool) {
	if r.isHost(connID) {
		return r.host, true
	}
	p, ok := r.students[connID]
	return p, ok
}

func (r *room) addWaiting(p *participant) {
	if _, ok := r.waiting[p.connID]; ok {
		return
	}
	r.waiting[p.connID] = p
	r.waitOrder = append(r.waitOrder, p.connID)
}

func (r *room) removeWaiting(connID domain.ConnID) (*participant, bool) {
	p, ok := r.waiting[connID]
	if !ok {
		return nil, false
	}
	delete(r.waiting, connID)
	for i, id := range r.waitOrder {
		if id == connID {
			r.waitOrder = append(r.waitOrder[:i], r.waitOrder[i+1:]...)
			break
		}
	}
	return p, true
}

// waitingInOrder returns waiting students in arrival order.
func (r *room) waitingInOrder() []*participant {
	out := make([]*participant, 0, len(r.waiting))
	for _, id := range r.waitOrder {
		if p, ok := r.waiting[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// othersFor lists every member except the given connection, the way a new
// joiner learns who to expect offers from (or to offer to).
func (r *room) othersFor(connID domain.ConnID) []protocol.PeerInfo {
	out := make([]protocol.PeerInfo, 0, len(r.students)+1)
	if r.host != nil && r.host.connID != connID {
		out = append(out, r.host.peerInfo())
	}
	for id, p := range r.students {
		if id == connID {
			continue
		}
		out = append(out, p.peerInfo())
	}
	return out
}

// roster builds the authoritative membership snapshot pushed to the room.
func (r *room) roster() protocol.Roster {
	ros := protocol.Roster{
		Students:        make([]protocol.PeerInfo, 0, len(r.students)),
		WaitingStudents: make([]protocol.PeerInfo, 0, len(r.waiting)),
	}
	if r.host != nil {
		ros.Teacher = string(r.host.connID)
		ros.TeacherName = r.host.identity.UserName
		ros.Count++
	}
	for _, p := range r.students {
		ros.Students = append(ros.Students, p.peerInfo())
		ros.Count++
	}
	for _, p := range r.waitingInOrder() {
		ros.WaitingStudents = append(ros.WaitingStudents, p.peerInfo())
	}
	return ros
}
