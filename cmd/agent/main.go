// Command agent is a headless classroom participant. It joins a room through
// the hub exactly like a browser client would, publishes synthetic media, and
// logs what happens in the session. Useful for load drills, soak tests and
// demo rooms without a single real browser.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/adapters/rtc"
	"github.com/avoran/classcast/internal/classapi"
	"github.com/avoran/classcast/internal/config"
	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/media"
	"github.com/avoran/classcast/internal/session"
	"github.com/avoran/classcast/internal/transport"
)

func main() {
	var (
		roleFlag = flag.String("role", "student", "participant role: teacher or student")
		room     = flag.String("room", "", "room id to join")
		userID   = flag.String("user", "", "user id (defaults to a fresh uuid)")
		userName = flag.String("name", "agent", "display name")
		activate = flag.Bool("activate", false, "teacher only: mark the class active via the class API before joining")
		apiToken = flag.String("api-token", os.Getenv("CLASS_API_TOKEN"), "bearer token for the class API")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *room == "" {
		log.Fatal().Msg("-room is required")
	}
	role := domain.Role(*roleFlag)
	if !role.Valid() {
		log.Fatal().Str("role", *roleFlag).Msg("role must be teacher or student")
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *activate && role == domain.RoleTeacher && cfg.Agent.ClassAPIBaseURL != "" {
		api := classapi.New(cfg.Agent.ClassAPIBaseURL, *apiToken)
		res, err := api.ActivateClass(ctx, *room)
		if err != nil {
			log.Error().Err(err).Str("class", *room).Msg("class activation failed")
		} else {
			log.Info().Str("class", res.ClassID).Str("session", res.SessionID).Msg("class activated")
			defer func() {
				if err := api.DeactivateClass(context.Background(), *room); err != nil {
					log.Error().Err(err).Msg("class deactivation failed")
				}
			}()
		}
	}

	channel := transport.Dial(ctx, transport.Options{
		URL:        cfg.Agent.HubURL,
		MinBackoff: cfg.Agent.ReconnectMin,
		MaxBackoff: cfg.Agent.ReconnectMax,
		MaxRetries: cfg.Agent.ReconnectRetries,
	})

	peers, err := rtc.Factory(rtc.Config{STUNServers: cfg.Agent.STUNServers})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup failed")
	}

	orch, err := session.New(session.Options{
		Role:      role,
		RoomID:    *room,
		Identity:  domain.Identity{UserID: *userID, UserName: *userName},
		Signaling: channel,
		Peers:     peers,
		Device:    &media.SyntheticDevice{},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("session setup failed")
	}
	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("media acquisition failed")
	}

	log.Info().Str("room", *room).Str("role", string(role)).Str("name", *userName).Msg("agent joined")

	go func() {
		<-ctx.Done()
		orch.Close()
	}()

	for ev := range orch.Events() {
		switch ev.Kind {
		case session.EventRosterUpdated:
			log.Info().Int("students", len(ev.Roster.Students)).
				Int("waiting", len(ev.Roster.WaitingStudents)).Msg("roster updated")
		case session.EventPeerConnected:
			log.Info().Str("peer", ev.Peer).Msg("peer connected")
		case session.EventRemoteTrack:
			log.Info().Str("peer", ev.Peer).Str("kind", ev.Track.Kind).Msg("remote track")
		case session.EventStreamRemoved:
			log.Info().Str("peer", ev.Peer).Msg("stream removed")
		case session.EventChat:
			log.Info().Str("sender", ev.Chat.Sender).Str("text", ev.Chat.Message).Msg("chat")
		case session.EventHandRaised:
			log.Info().Str("student", ev.Hand.UserName).Str("question", ev.Hand.Question).Msg("hand raised")
		case session.EventJoinRequest:
			// The agent teacher auto-admits everyone; moderation flows are
			// exercised by real clients.
			log.Info().Str("student", ev.Request.UserName).Msg("auto-admitting student")
			orch.AcceptStudent(ev.Request.SocketID)
		case session.EventWaitingForApproval:
			log.Info().Msg("waiting for teacher approval")
		case session.EventWaitingForTeacher:
			log.Info().Msg("teacher not present yet")
		case session.EventJoinApproved:
			log.Info().Msg("join approved")
		case session.EventJoinRejected:
			log.Warn().Str("reason", ev.Message).Msg("join rejected")
			cancel()
		case session.EventTeacherLeft:
			log.Info().Msg("teacher left the class")
		case session.EventForceMuted:
			log.Warn().Msg("muted by the teacher")
		case session.EventForceRemoved:
			log.Warn().Msg("removed by the teacher")
			cancel()
		case session.EventSessionClosed:
			log.Info().Msg("session closed")
		}
	}
}
