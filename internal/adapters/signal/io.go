package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid domain.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Registry.Leave(sid)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod + writeWait
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

// dispatch validates a frame at the relay boundary and routes it. Unknown or
// malformed frames are answered with an error event and otherwise ignored;
// one bad client must never disturb the room.
func (ctl *Controller) dispatch(sid domain.ConnID, c *wsConn, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad frame")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "malformed message")
		return
	}

	switch env.Type {
	case protocol.EventJoinRoom:
		ctl.handleJoinRoom(sid, c, env)
	case protocol.EventRequestJoin:
		ctl.handleRequestJoin(sid, c, env)
	case protocol.EventAcceptStudent:
		ctl.handleAcceptStudent(sid, c, env)
	case protocol.EventRejectStudent:
		ctl.handleRejectStudent(sid, c, env)
	case protocol.EventOffer:
		ctl.handleOffer(sid, c, env)
	case protocol.EventAnswer:
		ctl.handleAnswer(sid, c, env)
	case protocol.EventICECandidate:
		ctl.handleCandidate(sid, c, env)
	case protocol.EventChatMessage:
		ctl.handleChat(sid, c, env)
	case protocol.EventRaiseHand:
		ctl.handleRaiseHand(sid, c, env)
	case protocol.EventScreenShareStarted:
		ctl.Registry.NotifyScreenShare(sid, true)
	case protocol.EventScreenShareStopped:
		ctl.Registry.NotifyScreenShare(sid, false)
	case protocol.EventMuteUser:
		ctl.handleMuteUser(sid, c, env)
	case protocol.EventRemoveUser:
		ctl.handleRemoveUser(sid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(c, protocol.ErrCodeUnknownType, "unknown message type")
	}
}
