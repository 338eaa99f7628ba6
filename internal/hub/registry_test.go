package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

// fakeSender records every frame routed to one connection.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (s *fakeSender) TrySend(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return errors.New("queue full")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSender) events(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		env, err := protocol.ParseEnvelope(f)
		if err != nil {
			t.Fatalf("unparseable frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (s *fakeSender) count(t *testing.T, et protocol.EventType) int {
	n := 0
	for _, env := range s.events(t) {
		if env.Type == et {
			n++
		}
	}
	return n
}

func (s *fakeSender) last(t *testing.T, et protocol.EventType) (protocol.Envelope, bool) {
	t.Helper()
	var found protocol.Envelope
	ok := false
	for _, env := range s.events(t) {
		if env.Type == et {
			found, ok = env, true
		}
	}
	return found, ok
}

func (s *fakeSender) mustLast(t *testing.T, et protocol.EventType) protocol.Envelope {
	t.Helper()
	env, ok := s.last(t, et)
	if !ok {
		t.Fatalf("no %q event received; got %v", et, s.types(t))
	}
	return env
}

func (s *fakeSender) types(t *testing.T) []protocol.EventType {
	var out []protocol.EventType
	for _, env := range s.events(t) {
		out = append(out, env.Type)
	}
	return out
}

const testRoom = domain.RoomID("class-101")

func teacherIdentity() domain.Identity {
	return domain.Identity{UserID: "t1", UserName: "Ms. Frizzle"}
}

// admitStudent walks a student through the full waiting-room flow.
func admitStudent(t *testing.T, g *Registry, host domain.ConnID, conn domain.ConnID, name string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	g.RequestJoin(conn, testRoom, domain.Identity{UserID: "u-" + string(conn), UserName: name}, s)
	g.Accept(host, testRoom, conn)
	if _, ok := s.last(t, protocol.EventJoinApproved); !ok {
		t.Fatalf("student %s not approved; got %v", conn, s.types(t))
	}
	return s
}

func TestJoinTeacherCreatesRoomAndRoster(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)

	var existing []protocol.PeerInfo
	if err := host.mustLast(t, protocol.EventExistingStudents).Decode(&existing); err != nil {
		t.Fatalf("decode existing-students: %v", err)
	}
	if len(existing) != 0 {
		t.Fatalf("expected empty room, got %d peers", len(existing))
	}

	var ros protocol.Roster
	if err := host.mustLast(t, protocol.EventParticipantsUpdated).Decode(&ros); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if ros.Teacher != "conn-t" || ros.TeacherName != "Ms. Frizzle" {
		t.Fatalf("unexpected roster teacher: %+v", ros)
	}
	if ros.Count != 1 {
		t.Fatalf("expected count 1, got %d", ros.Count)
	}
}

func TestRequestJoinBeforeTeacherArrives(t *testing.T) {
	g := NewRegistry()
	student := &fakeSender{}
	g.RequestJoin("conn-s", testRoom, domain.Identity{UserID: "s1", UserName: "Arnold"}, student)

	if _, ok := student.last(t, protocol.EventWaitingForTeacher); !ok {
		t.Fatalf("expected waiting-for-teacher, got %v", student.types(t))
	}

	// The late teacher sees the queued request replayed.
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)
	var req protocol.JoinRequest
	if err := host.mustLast(t, protocol.EventJoinRequest).Decode(&req); err != nil {
		t.Fatalf("decode join-request: %v", err)
	}
	if req.SocketID != "conn-s" || req.UserName != "Arnold" {
		t.Fatalf("unexpected join request: %+v", req)
	}

	// Waiting students are listed but not members.
	ros, ok := g.RosterOf(testRoom)
	if !ok {
		t.Fatal("room missing")
	}
	if len(ros.WaitingStudents) != 1 || len(ros.Students) != 0 {
		t.Fatalf("unexpected roster: %+v", ros)
	}
	if ros.Contains("conn-s") {
		t.Fatal("waiting student must not count as a member")
	}
}

func TestAcceptMovesStudentIntoRoom(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)

	student := admitStudent(t, g, "conn-t", "conn-s", "Arnold")

	var existing []protocol.PeerInfo
	if err := student.mustLast(t, protocol.EventExistingStudents).Decode(&existing); err != nil {
		t.Fatalf("decode existing-students: %v", err)
	}
	if len(existing) != 1 || existing[0].SocketID != "conn-t" {
		t.Fatalf("expected teacher in existing peers, got %+v", existing)
	}

	var joined protocol.PeerInfo
	if err := host.mustLast(t, protocol.EventStudentJoined).Decode(&joined); err != nil {
		t.Fatalf("decode student-joined: %v", err)
	}
	if joined.SocketID != "conn-s" {
		t.Fatalf("unexpected student-joined: %+v", joined)
	}

	ros, _ := g.RosterOf(testRoom)
	if !ros.Contains("conn-s") || len(ros.WaitingStudents) != 0 {
		t.Fatalf("unexpected roster after accept: %+v", ros)
	}
}

func TestRejectRemovesWaitingStudent(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	student := &fakeSender{}
	g.RequestJoin("conn-s", testRoom, domain.Identity{UserID: "s1", UserName: "Arnold"}, student)

	g.Reject("conn-t", testRoom, "conn-s")

	var rej protocol.JoinRejected
	if err := student.mustLast(t, protocol.EventJoinRejected).Decode(&rej); err != nil {
		t.Fatalf("decode join-rejected: %v", err)
	}
	ros, _ := g.RosterOf(testRoom)
	if len(ros.WaitingStudents) != 0 {
		t.Fatalf("waiting list not cleared: %+v", ros)
	}
}

func TestAcceptFromNonHostIgnored(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	student := &fakeSender{}
	g.RequestJoin("conn-s", testRoom, domain.Identity{UserID: "s1", UserName: "Arnold"}, student)

	g.Accept("conn-imposter", testRoom, "conn-s")

	if _, ok := student.last(t, protocol.EventJoinApproved); ok {
		t.Fatal("non-host accept must not admit the student")
	}
}

func TestRelayBlockedForUnapprovedSender(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)
	waiting := &fakeSender{}
	g.RequestJoin("conn-w", testRoom, domain.Identity{UserID: "w1", UserName: "Wanda"}, waiting)

	g.RelayAnswer("conn-w", protocol.Answer{To: "conn-t", SDP: protocol.SDP{Type: "answer", SDP: "v=0"}})

	if n := host.count(t, protocol.EventAnswer); n != 0 {
		t.Fatalf("unapproved sender reached the host: %d answers", n)
	}
}

func TestRelayOfferStampsSenderAndUserInfo(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	student := admitStudent(t, g, "conn-t", "conn-s", "Arnold")

	g.RelayOffer("conn-t", protocol.Offer{To: "conn-s", SDP: protocol.SDP{Type: "offer", SDP: "v=0"}})

	var offer protocol.Offer
	if err := student.mustLast(t, protocol.EventOffer).Decode(&offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.From != "conn-t" {
		t.Fatalf("offer not stamped with sender: %+v", offer)
	}
	if offer.UserInfo == nil || offer.UserInfo.UserName != "Ms. Frizzle" {
		t.Fatalf("offer missing sender identity: %+v", offer.UserInfo)
	}
}

func TestRelayToDepartedTargetDropsSilently(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	admitStudent(t, g, "conn-t", "conn-s", "Arnold")
	g.Leave("conn-s")

	// Must not panic and must not error back.
	g.RelayCandidate("conn-t", protocol.ICECandidate{
		To:        "conn-s",
		Candidate: protocol.Candidate{Candidate: "candidate:1 1 udp 1 0.0.0.0 9 typ host"},
	})
}

func TestHostReconnectSupersedesOldConnection(t *testing.T) {
	g := NewRegistry()
	oldHost := &fakeSender{}
	g.JoinTeacher("conn-t1", testRoom, teacherIdentity(), oldHost)
	student := admitStudent(t, g, "conn-t1", "conn-s", "Arnold")

	newHost := &fakeSender{}
	g.JoinTeacher("conn-t2", testRoom, teacherIdentity(), newHost)

	ros, _ := g.RosterOf(testRoom)
	if ros.Teacher != "conn-t2" {
		t.Fatalf("new connection did not take the host slot: %+v", ros)
	}

	// The stale connection's disconnect must not clear the new host or
	// produce a teacher-left.
	before := student.count(t, protocol.EventTeacherLeft)
	g.Leave("conn-t1")
	if after := student.count(t, protocol.EventTeacherLeft); after != before {
		t.Fatal("stale host disconnect produced teacher-left")
	}
	ros, _ = g.RosterOf(testRoom)
	if ros.Teacher != "conn-t2" {
		t.Fatalf("stale disconnect cleared the new host: %+v", ros)
	}
}

func TestHostLeaveNotifiesRoomAndWaiting(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	student := admitStudent(t, g, "conn-t", "conn-s", "Arnold")
	waiting := &fakeSender{}
	g.RequestJoin("conn-w", testRoom, domain.Identity{UserID: "w1", UserName: "Wanda"}, waiting)

	g.Leave("conn-t")

	var left protocol.PeerLeft
	if err := student.mustLast(t, protocol.EventTeacherLeft).Decode(&left); err != nil {
		t.Fatalf("decode teacher-left: %v", err)
	}
	if left.SocketID != "conn-t" || left.Role != domain.RoleTeacher {
		t.Fatalf("unexpected teacher-left: %+v", left)
	}
	if _, ok := waiting.last(t, protocol.EventWaitingForTeacher); !ok {
		t.Fatalf("waiting student not reset to waiting-for-teacher: %v", waiting.types(t))
	}

	// Room survives while students remain.
	if g.RoomCount() != 1 {
		t.Fatalf("room dropped while occupied: %d rooms", g.RoomCount())
	}
}

func TestEmptyRoomIsDeleted(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	admitStudent(t, g, "conn-t", "conn-s", "Arnold")

	g.Leave("conn-t")
	g.Leave("conn-s")

	if g.RoomCount() != 0 {
		t.Fatalf("expected empty registry, got %d rooms", g.RoomCount())
	}
	if g.ConnCount() != 0 {
		t.Fatalf("expected no tracked connections, got %d", g.ConnCount())
	}
}

func TestStudentLeaveAnnouncedToOthers(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)
	admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	s2 := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.Leave("conn-s1")

	var left protocol.PeerLeft
	if err := s2.mustLast(t, protocol.EventStudentLeft).Decode(&left); err != nil {
		t.Fatalf("decode student-left: %v", err)
	}
	if left.SocketID != "conn-s1" || left.UserName != "Arnold" {
		t.Fatalf("unexpected student-left: %+v", left)
	}
	ros, _ := g.RosterOf(testRoom)
	if ros.Contains("conn-s1") || !ros.Contains("conn-s2") {
		t.Fatalf("roster inconsistent after leave: %+v", ros)
	}
}

func TestMuteDeliveredToTargetOnly(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	target := admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	other := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.Mute("conn-t", "conn-s1")

	var mod protocol.Moderated
	if err := target.mustLast(t, protocol.EventForceMute).Decode(&mod); err != nil {
		t.Fatalf("decode force-mute: %v", err)
	}
	if mod.ByName != "Ms. Frizzle" {
		t.Fatalf("unexpected moderator: %+v", mod)
	}
	if n := other.count(t, protocol.EventForceMute); n != 0 {
		t.Fatal("force-mute leaked to a bystander")
	}
}

func TestMuteFromStudentIgnored(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	target := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.Mute("conn-s1", "conn-s2")

	if n := target.count(t, protocol.EventForceMute); n != 0 {
		t.Fatal("student-issued mute must be ignored")
	}
}

func TestRemoveEjectsStudent(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	target := admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	other := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.Remove("conn-t", "conn-s1")

	if _, ok := target.last(t, protocol.EventForceRemove); !ok {
		t.Fatalf("target not told about removal: %v", target.types(t))
	}
	var left protocol.PeerLeft
	if err := other.mustLast(t, protocol.EventStudentLeft).Decode(&left); err != nil {
		t.Fatalf("decode student-left: %v", err)
	}
	if left.SocketID != "conn-s1" {
		t.Fatalf("unexpected student-left: %+v", left)
	}
	ros, _ := g.RosterOf(testRoom)
	if ros.Contains("conn-s1") {
		t.Fatalf("removed student still in roster: %+v", ros)
	}
}

func TestChatReachesEveryoneIncludingSender(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)
	sender := admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	other := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.BroadcastChat("conn-s1", protocol.ChatMessage{
		ID: "m1", Sender: "Arnold", Message: "hello", Role: domain.RoleStudent, UserID: "u-conn-s1",
	})

	for name, s := range map[string]*fakeSender{"host": host, "sender": sender, "other": other} {
		var msg protocol.ChatMessage
		if err := s.mustLast(t, protocol.EventChatMessage).Decode(&msg); err != nil {
			t.Fatalf("%s: decode chat: %v", name, err)
		}
		if msg.Message != "hello" {
			t.Fatalf("%s: unexpected chat payload: %+v", name, msg)
		}
	}
}

func TestRaiseHandGoesToHostOnly(t *testing.T) {
	g := NewRegistry()
	host := &fakeSender{}
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), host)
	admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	bystander := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")

	g.RaiseHand("conn-s1", "what is RTP?")

	var hand protocol.HandRaised
	if err := host.mustLast(t, protocol.EventHandRaised).Decode(&hand); err != nil {
		t.Fatalf("decode hand-raised: %v", err)
	}
	if hand.SocketID != "conn-s1" || hand.Question != "what is RTP?" {
		t.Fatalf("unexpected hand-raised: %+v", hand)
	}
	if n := bystander.count(t, protocol.EventHandRaised); n != 0 {
		t.Fatal("hand-raised leaked to another student")
	}
}

func TestScreenShareNotifiesOthers(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	student := admitStudent(t, g, "conn-t", "conn-s", "Arnold")

	g.NotifyScreenShare("conn-t", true)
	var note protocol.ScreenShare
	if err := student.mustLast(t, protocol.EventScreenShareStarted).Decode(&note); err != nil {
		t.Fatalf("decode screen-share-started: %v", err)
	}
	if note.SocketID != "conn-t" || note.UserName != "Ms. Frizzle" {
		t.Fatalf("unexpected share note: %+v", note)
	}

	g.NotifyScreenShare("conn-t", false)
	if _, ok := student.last(t, protocol.EventScreenShareStopped); !ok {
		t.Fatalf("stop not delivered: %v", student.types(t))
	}
}

func TestFullQueueDropsFrameWithoutAffectingOthers(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})
	stuck := admitStudent(t, g, "conn-t", "conn-s1", "Arnold")
	healthy := admitStudent(t, g, "conn-t", "conn-s2", "Phoebe")
	stuck.mu.Lock()
	stuck.full = true
	stuck.mu.Unlock()

	g.BroadcastChat("conn-t", protocol.ChatMessage{ID: "m1", Sender: "Ms. Frizzle", Message: "hi"})

	if _, ok := healthy.last(t, protocol.EventChatMessage); !ok {
		t.Fatal("healthy connection starved by a stuck one")
	}
}

func TestConcurrentJoinsStayConsistent(t *testing.T) {
	g := NewRegistry()
	g.JoinTeacher("conn-t", testRoom, teacherIdentity(), &fakeSender{})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := domain.ConnID(fmt.Sprintf("conn-s%d", i))
			g.RequestJoin(conn, testRoom, domain.Identity{
				UserID:   fmt.Sprintf("u%d", i),
				UserName: fmt.Sprintf("student-%d", i),
			}, &fakeSender{})
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		g.Accept("conn-t", testRoom, domain.ConnID(fmt.Sprintf("conn-s%d", i)))
	}

	ros, _ := g.RosterOf(testRoom)
	if len(ros.Students) != n || len(ros.WaitingStudents) != 0 {
		t.Fatalf("inconsistent roster after concurrent joins: %d students, %d waiting",
			len(ros.Students), len(ros.WaitingStudents))
	}
	if ros.Count != n+1 {
		t.Fatalf("expected count %d, got %d", n+1, ros.Count)
	}
}
