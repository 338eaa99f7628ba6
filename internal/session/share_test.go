package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/media"
	"github.com/avoran/classcast/internal/protocol"
)

// scriptedDevice exposes the screen source so tests can end the capture as
// if sharing was revoked at the OS level.
type scriptedDevice struct {
	media.SyntheticDevice
	screenSrc *media.SyntheticSource
}

func (d *scriptedDevice) AcquireScreen(ctx context.Context) (*media.Track, error) {
	d.screenSrc = media.NewSyntheticSource(time.Millisecond, 16, 1)
	return media.NewTrack("video", "screen-test", d.screenSrc)
}

func teacherWithLinks(t *testing.T, device media.Device, peers ...string) *harness {
	t.Helper()
	h := newHarness(t, domain.RoleTeacher, device)
	h.connect(t)
	infos := make([]protocol.PeerInfo, 0, len(peers))
	for _, id := range peers {
		infos = append(infos, protocol.PeerInfo{SocketID: id})
	}
	h.sig.pushFrame(t, protocol.EventExistingStudents, infos)
	h.sync(t)
	return h
}

func TestStartScreenShareSwapsVideoEverywhere(t *testing.T) {
	h := teacherWithLinks(t, &scriptedDevice{}, "conn-a", "conn-b")

	if err := h.orch.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 2; i++ {
		vs := h.farm.peer(i).videoSender()
		if vs == nil {
			t.Fatalf("peer %d has no video sender", i)
		}
		vs.mu.Lock()
		replaced := vs.replaced
		vs.mu.Unlock()
		if replaced != 1 {
			t.Fatalf("peer %d: expected 1 track swap, got %d", i, replaced)
		}
	}
	if n := len(h.sig.sentOfType(t, protocol.EventScreenShareStarted)); n != 1 {
		t.Fatalf("expected 1 started notification, got %d", n)
	}
}

func TestStartScreenShareDeniedChangesNothing(t *testing.T) {
	h := teacherWithLinks(t, &media.SyntheticDevice{DenyScreen: true}, "conn-a")

	err := h.orch.StartScreenShare(context.Background())
	if !errors.Is(err, media.ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}

	vs := h.farm.peer(0).videoSender()
	vs.mu.Lock()
	replaced := vs.replaced
	vs.mu.Unlock()
	if replaced != 0 {
		t.Fatalf("denied capture still swapped tracks: %d", replaced)
	}
	if n := len(h.sig.sentOfType(t, protocol.EventScreenShareStarted)); n != 0 {
		t.Fatalf("denied capture was broadcast: %d notifications", n)
	}
}

func TestStopScreenShareRestoresCamera(t *testing.T) {
	h := teacherWithLinks(t, &scriptedDevice{}, "conn-a")

	if err := h.orch.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.orch.StopScreenShare()

	vs := h.farm.peer(0).videoSender()
	vs.mu.Lock()
	current := vs.current
	replaced := vs.replaced
	vs.mu.Unlock()
	if replaced != 2 {
		t.Fatalf("expected swap out and back, got %d swaps", replaced)
	}
	if current != h.orch.local.Video.Local() {
		t.Fatal("camera track not restored")
	}
	if n := len(h.sig.sentOfType(t, protocol.EventScreenShareStopped)); n != 1 {
		t.Fatalf("expected 1 stopped notification, got %d", n)
	}
}

func TestStopScreenShareWithoutStartIsNoOp(t *testing.T) {
	h := teacherWithLinks(t, &scriptedDevice{}, "conn-a")

	h.orch.StopScreenShare()
	h.orch.StopScreenShare()

	if n := len(h.sig.sentOfType(t, protocol.EventScreenShareStopped)); n != 0 {
		t.Fatalf("idle stop broadcast %d notifications", n)
	}
}

func TestLinkCreatedDuringShareCarriesScreenTrack(t *testing.T) {
	h := teacherWithLinks(t, &scriptedDevice{}, "conn-a")

	if err := h.orch.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.sig.pushFrame(t, protocol.EventStudentJoined, protocol.PeerInfo{SocketID: "conn-late"})
	h.sync(t)

	vs := h.farm.peer(1).videoSender()
	if vs == nil {
		t.Fatal("late link has no video sender")
	}
	vs.mu.Lock()
	current := vs.current
	vs.mu.Unlock()
	if current == h.orch.local.Video.Local() {
		t.Fatal("late link received the camera track during an active share")
	}
}

func TestScreenCaptureEndingStopsShare(t *testing.T) {
	device := &scriptedDevice{}
	h := teacherWithLinks(t, device, "conn-a")

	if err := h.orch.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The capture source dies on its own.
	if err := device.screenSrc.Close(); err != nil {
		t.Fatalf("close source: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.sync(t)
		if len(h.sig.sentOfType(t, protocol.EventScreenShareStopped)) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("share did not stop after the capture ended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	vs := h.farm.peer(0).videoSender()
	vs.mu.Lock()
	current := vs.current
	vs.mu.Unlock()
	if current != h.orch.local.Video.Local() {
		t.Fatal("camera track not restored after capture ended")
	}
}
