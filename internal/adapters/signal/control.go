package signal

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

func (ctl *Controller) handleChat(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.ChatMessage
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad chat payload")
		return
	}
	if p.Message == "" {
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	ctl.Registry.BroadcastChat(sid, p)
}

func (ctl *Controller) handleRaiseHand(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.RaiseHand
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad raise-hand payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad raise-hand payload")
		return
	}
	if !ctl.handRate.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("raise-hand rate limited")
		return
	}
	ctl.Registry.RaiseHand(sid, p.Question)
}
