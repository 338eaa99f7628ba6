package session

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/media"
	"github.com/avoran/classcast/internal/protocol"
)

// shareManager owns the screen-share substate: which track is currently
// flowing through the video sender of every live link. All methods run on
// the orchestrator loop goroutine, so no locking is needed.
type shareManager struct {
	orch   *Orchestrator
	device media.Device

	screen *media.Track
}

func (m *shareManager) Active() bool { return m.screen != nil }

// start acquires a screen capture and swaps it onto every live link's video
// sender in place, without renegotiation. Acquisition failure leaves camera
// video flowing and nothing broadcast.
func (m *shareManager) start(ctx context.Context) error {
	if m.screen != nil {
		return nil
	}
	screen, err := m.device.AcquireScreen(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("screen capture denied")
		return err
	}
	m.screen = screen

	// Capture ending on its own (sharing revoked at the OS level) stops the
	// share exactly like an explicit stop.
	track := screen
	screen.OnEnded(func() {
		m.orch.post(func() {
			if m.screen == track {
				m.stop()
			}
		})
	})

	m.swapVideo(screen.Local())
	m.orch.send(protocol.EventScreenShareStarted, protocol.ScreenShare{
		SocketID: m.orch.selfID,
		UserName: m.orch.opts.Identity.UserName,
	})
	log.Info().Str("module", "session").Msg("screen share started")
	return nil
}

// stop restores the camera video on every link and releases the capture.
// Idempotent: a second stop, or a stop racing the capture's own end, is a
// no-op.
func (m *shareManager) stop() {
	if m.screen == nil {
		return
	}
	screen := m.screen
	m.screen = nil
	screen.Close()

	if cam := m.orch.local.Video; cam != nil {
		m.swapVideo(cam.Local())
	}
	m.orch.send(protocol.EventScreenShareStopped, protocol.ScreenShare{
		SocketID: m.orch.selfID,
		UserName: m.orch.opts.Identity.UserName,
	})
	log.Info().Str("module", "session").Msg("screen share stopped")
}

func (m *shareManager) swapVideo(t webrtc.TrackLocal) {
	for id, link := range m.orch.links {
		if link.videoSender == nil {
			continue
		}
		if err := link.videoSender.ReplaceTrack(t); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", id).Msg("replace track")
		}
	}
}

// release drops the capture without broadcasting; used during session
// teardown where the hub connection is already gone.
func (m *shareManager) release() {
	if m.screen != nil {
		m.screen.Close()
		m.screen = nil
	}
}
