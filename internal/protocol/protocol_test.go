package protocol

import (
	"errors"
	"testing"

	"github.com/avoran/classcast/internal/domain"
)

func TestParseEnvelopeRoundTrip(t *testing.T) {
	frame, err := Encode(EventJoinRoom, JoinRoom{
		RoomID: "class-101", Role: domain.RoleTeacher, UserID: "t1", UserName: "Ms. Frizzle",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := ParseEnvelope(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != EventJoinRoom {
		t.Fatalf("unexpected type %q", env.Type)
	}
	var msg JoinRoom
	if err := env.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.RoomID != "class-101" || msg.UserName != "Ms. Frizzle" {
		t.Fatalf("payload mangled: %+v", msg)
	}
}

func TestParseEnvelopeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"empty", ``},
		{"not json", `join-room`},
		{"missing type", `{"data":{}}`},
		{"unknown top-level field", `{"type":"offer","data":{},"extra":1}`},
		{"trailing data", `{"type":"offer"}{"type":"answer"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEnvelope([]byte(tc.frame)); err == nil {
				t.Fatalf("expected error for %q", tc.frame)
			}
		})
	}
}

func TestDecodeRejectsUnknownPayloadFields(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"raise-hand","data":{"question":"hi","admin":true}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var msg RaiseHand
	if err := env.Decode(&msg); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestJoinRoomValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  JoinRoom
		ok   bool
	}{
		{"valid teacher", JoinRoom{RoomID: "r1", Role: domain.RoleTeacher, UserID: "u1", UserName: "a"}, true},
		{"valid student", JoinRoom{RoomID: "r1", Role: domain.RoleStudent, UserID: "u1", UserName: "a"}, true},
		{"bad role", JoinRoom{RoomID: "r1", Role: "admin", UserID: "u1", UserName: "a"}, false},
		{"empty room", JoinRoom{Role: domain.RoleTeacher, UserID: "u1", UserName: "a"}, false},
		{"empty identity", JoinRoom{RoomID: "r1", Role: domain.RoleTeacher}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestOfferValidate(t *testing.T) {
	valid := Offer{To: "conn-1", SDP: SDP{Type: "offer", SDP: "v=0"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := (Offer{SDP: SDP{Type: "offer", SDP: "v=0"}}).Validate(); !errors.Is(err, ErrMissingTarget) {
		t.Fatalf("expected ErrMissingTarget, got %v", err)
	}
	if err := (Offer{To: "conn-1", SDP: SDP{Type: "offer"}}).Validate(); !errors.Is(err, ErrMissingSDP) {
		t.Fatalf("expected ErrMissingSDP, got %v", err)
	}
	if err := (Offer{To: "conn-1", SDP: SDP{Type: "answer", SDP: "v=0"}}).Validate(); !errors.Is(err, ErrBadSDPType) {
		t.Fatalf("expected ErrBadSDPType, got %v", err)
	}
}

func TestAnswerValidateRejectsOfferSDP(t *testing.T) {
	msg := Answer{To: "conn-1", SDP: SDP{Type: "offer", SDP: "v=0"}}
	if err := msg.Validate(); !errors.Is(err, ErrBadSDPType) {
		t.Fatalf("expected ErrBadSDPType, got %v", err)
	}
}

func TestSDPPionConversion(t *testing.T) {
	for _, kind := range []string{"offer", "answer"} {
		desc, err := SDP{Type: kind, SDP: "v=0"}.ToPion()
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		back := SDPFromPion(desc)
		if back.Type != kind || back.SDP != "v=0" {
			t.Fatalf("%s: round trip mangled: %+v", kind, back)
		}
	}
	if _, err := (SDP{Type: "pranswer", SDP: "v=0"}).ToPion(); !errors.Is(err, ErrBadSDPType) {
		t.Fatalf("expected ErrBadSDPType, got %v", err)
	}
}

func TestRosterContains(t *testing.T) {
	ros := Roster{
		Teacher:         "conn-t",
		Students:        []PeerInfo{{SocketID: "conn-s1"}},
		WaitingStudents: []PeerInfo{{SocketID: "conn-w1"}},
	}
	if !ros.Contains("conn-t") || !ros.Contains("conn-s1") {
		t.Fatal("members must be contained")
	}
	if ros.Contains("conn-w1") {
		t.Fatal("waiting students are not members")
	}
	if ros.Contains("conn-unknown") {
		t.Fatal("unknown id contained")
	}
}
