package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/protocol"
)

func (ctl *Controller) handleJoinRoom(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.JoinRoom
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad join-room payload")
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, err.Error())
		return
	}

	identity := domain.Identity{UserID: p.UserID, UserName: p.UserName}
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("room", p.RoomID).Str("role", string(p.Role)).Str("name", p.UserName).Msg("join")

	switch p.Role {
	case domain.RoleTeacher:
		ctl.Registry.JoinTeacher(sid, domain.RoomID(p.RoomID), identity, c)
	case domain.RoleStudent:
		ctl.Registry.JoinStudent(sid, domain.RoomID(p.RoomID), identity, c)
	}
}

func (ctl *Controller) handleRequestJoin(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.RequestJoin
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad request-join payload")
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad request-join payload")
		return
	}
	if err := p.Validate(); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, err.Error())
		return
	}

	identity := domain.Identity{UserID: p.UserID, UserName: p.UserName}
	ctl.Registry.RequestJoin(sid, domain.RoomID(p.RoomID), identity, c)
}

func (ctl *Controller) handleAcceptStudent(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.AcceptStudent
	if err := env.Decode(&p); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad accept-student payload")
		return
	}
	ctl.Registry.Accept(sid, domain.RoomID(p.RoomID), domain.ConnID(p.StudentSocketID))
}

func (ctl *Controller) handleRejectStudent(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.RejectStudent
	if err := env.Decode(&p); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad reject-student payload")
		return
	}
	ctl.Registry.Reject(sid, domain.RoomID(p.RoomID), domain.ConnID(p.StudentSocketID))
}

func (ctl *Controller) handleMuteUser(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.MuteUser
	if err := env.Decode(&p); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad mute-user payload")
		return
	}
	ctl.Registry.Mute(sid, domain.ConnID(p.TargetSocketID))
}

func (ctl *Controller) handleRemoveUser(sid domain.ConnID, c *wsConn, env protocol.Envelope) {
	var p protocol.RemoveUser
	if err := env.Decode(&p); err != nil {
		ctl.sendError(c, protocol.ErrCodeBadPayload, "bad remove-user payload")
		return
	}
	ctl.Registry.Remove(sid, domain.ConnID(p.TargetSocketID))
}
