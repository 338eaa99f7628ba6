package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

// Negotiation messages are relayed verbatim; the hub stamps the sender and
// never parses the SDP or candidate bodies beyond boundary validation.

func (ctl *Controller) handleOffer(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.Offer
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad offer payload")
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, err.Error())
		return
	}
	ctl.Registry.RelayOffer(sid, p)
}

func (ctl *Controller) handleAnswer(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.Answer
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad answer payload")
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, err.Error())
		return
	}
	ctl.Registry.RelayAnswer(sid, p)
}

func (ctl *Controller) handleCandidate(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.ICECandidate
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad ice-candidate payload")
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, err.Error())
		return
	}
	ctl.Registry.RelayCandidate(sid, p)
}
