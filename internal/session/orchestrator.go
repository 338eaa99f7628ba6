package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avoran/classcast/internal/domain"
	"github.com/avoran/classcast/internal/media"
	"github.com/avoran/classcast/internal/protocol"
	"github.com/avoran/classcast/internal/transport"
)

var (
	ErrSessionClosed = errors.New("session: closed")
	ErrNoDevice      = errors.New("session: no capture device")
)

// pendingCandidateCap bounds how many early ICE candidates are queued per
// peer before the corresponding link exists.
const pendingCandidateCap = 32

// Signaling is the orchestrator's view of the room channel. Implemented by
// *transport.Channel; tests use an in-memory fake.
type Signaling interface {
	Events() <-chan transport.Event
	Send(frame []byte) error
	Close()
}

// Options configures one session.
type Options struct {
	Role     domain.Role
	RoomID   string
	Identity domain.Identity

	Signaling Signaling
	Peers     PeerFactory
	Device    media.Device
}

// Orchestrator is a single-goroutine, event-driven state machine: hub events,
// UI commands and peer-connection callbacks all funnel through one inbox and
// are handled as discrete, non-overlapping reactions.
type Orchestrator struct {
	opts Options

	selfID  string
	local   *media.Stream
	links   map[string]*PeerLink
	pending map[string][]protocol.Candidate
	roster  protocol.Roster
	share   *shareManager

	chatLog      []protocol.ChatMessage
	pendingHands []protocol.HandRaised

	inbox  chan func()
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	started   bool
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Signaling == nil || opts.Peers == nil {
		return nil, errors.New("session: signaling and peer factory are required")
	}
	if opts.Device == nil {
		return nil, ErrNoDevice
	}
	if !opts.Role.Valid() {
		return nil, errors.New("session: invalid role")
	}
	o := &Orchestrator{
		opts:    opts,
		links:   make(map[string]*PeerLink),
		pending: make(map[string][]protocol.Candidate),
		inbox:   make(chan func(), 128),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	o.share = &shareManager{orch: o, device: opts.Device}
	return o, nil
}

// Start acquires the local media stream and begins processing events.
// Acquisition failure is returned synchronously and leaves no state behind.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.started {
		return errors.New("session: already started")
	}
	stream, err := o.opts.Device.AcquireCamera(ctx)
	if err != nil {
		return err
	}
	o.local = stream
	o.started = true
	go o.run()
	return nil
}

// Events republishes high-level session state to the UI layer. Closed after
// EventSessionClosed.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// run is the only goroutine that touches orchestrator state.
func (o *Orchestrator) run() {
	for {
		select {
		case ev, ok := <-o.opts.Signaling.Events():
			if !ok {
				o.teardown()
				return
			}
			switch ev.Kind {
			case transport.EventConnected:
				o.onTransportConnected()
			case transport.EventMessage:
				o.onFrame(ev.Frame)
			case transport.EventClosed:
				o.teardown()
				return
			}
		case fn := <-o.inbox:
			fn()
		case <-o.done:
			return
		}
	}
}

// post hands a closure to the run goroutine. Used by public methods and by
// peer-connection callbacks so no reaction ever overlaps another.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.inbox <- fn:
	case <-o.done:
	}
}

// call posts fn and waits for it to finish.
func (o *Orchestrator) call(fn func()) error {
	ack := make(chan struct{})
	select {
	case o.inbox <- func() { fn(); close(ack) }:
	case <-o.done:
		return ErrSessionClosed
	}
	select {
	case <-ack:
		return nil
	case <-o.done:
		return ErrSessionClosed
	}
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		log.Warn().Str("module", "session").Int("kind", int(ev.Kind)).Msg("ui event dropped")
	}
}

func (o *Orchestrator) send(t protocol.EventType, v any) {
	frame, err := protocol.Encode(t, v)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("event", string(t)).Msg("encode")
		return
	}
	if err := o.opts.Signaling.Send(frame); err != nil {
		log.Debug().Err(err).Str("module", "session").Str("event", string(t)).Msg("send")
	}
}

// onTransportConnected (re)announces the join. Any links from a previous
// physical connection are stale: the hub forgot our connection id, so peers
// renegotiate from scratch.
func (o *Orchestrator) onTransportConnected() {
	for id := range o.links {
		o.closeLink(id, LinkClosed)
	}
	o.pending = make(map[string][]protocol.Candidate)

	switch o.opts.Role {
	case domain.RoleTeacher:
		o.send(protocol.EventJoinRoom, protocol.JoinRoom{
			RoomID:   o.opts.RoomID,
			Role:     domain.RoleTeacher,
			UserID:   o.opts.Identity.UserID,
			UserName: o.opts.Identity.UserName,
		})
	case domain.RoleStudent:
		o.send(protocol.EventRequestJoin, protocol.RequestJoin{
			RoomID:   o.opts.RoomID,
			UserID:   o.opts.Identity.UserID,
			UserName: o.opts.Identity.UserName,
		})
	}
}

func (o *Orchestrator) onFrame(frame []byte) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad frame from hub")
		return
	}

	switch env.Type {
	case protocol.EventConnected:
		var p protocol.Connected
		if env.Decode(&p) == nil {
			o.selfID = p.SocketID
		}
	case protocol.EventExistingStudents:
		var peers []protocol.PeerInfo
		if env.Decode(&peers) != nil {
			return
		}
		o.onExistingPeers(peers)
	case protocol.EventStudentJoined:
		var p protocol.PeerInfo
		if env.Decode(&p) != nil {
			return
		}
		o.onPeerJoined(p)
	case protocol.EventOffer:
		var p protocol.Offer
		if env.Decode(&p) != nil {
			return
		}
		o.onOffer(p)
	case protocol.EventAnswer:
		var p protocol.Answer
		if env.Decode(&p) != nil {
			return
		}
		o.onAnswer(p)
	case protocol.EventICECandidate:
		var p protocol.ICECandidate
		if env.Decode(&p) != nil {
			return
		}
		o.onCandidate(p)
	case protocol.EventParticipantsUpdated:
		var ros protocol.Roster
		if env.Decode(&ros) != nil {
			return
		}
		o.onRoster(ros)
	case protocol.EventStudentLeft:
		var p protocol.PeerLeft
		if env.Decode(&p) != nil {
			return
		}
		o.closeLink(p.SocketID, LinkClosed)
	case protocol.EventTeacherLeft:
		var p protocol.PeerLeft
		if env.Decode(&p) != nil {
			return
		}
		o.closeLink(p.SocketID, LinkClosed)
		o.emit(Event{Kind: EventTeacherLeft, Peer: p.SocketID})
	case protocol.EventChatMessage:
		var msg protocol.ChatMessage
		if env.Decode(&msg) != nil {
			return
		}
		o.chatLog = append(o.chatLog, msg)
		o.emit(Event{Kind: EventChat, Chat: &msg})
	case protocol.EventHandRaised:
		var hand protocol.HandRaised
		if env.Decode(&hand) != nil {
			return
		}
		o.pendingHands = append(o.pendingHands, hand)
		o.emit(Event{Kind: EventHandRaised, Hand: &hand})
	case protocol.EventJoinRequest:
		var req protocol.JoinRequest
		if env.Decode(&req) != nil {
			return
		}
		o.emit(Event{Kind: EventJoinRequest, Request: &req})
	case protocol.EventWaitingForTeacher:
		o.emit(Event{Kind: EventWaitingForTeacher})
	case protocol.EventWaitingForApproval:
		o.emit(Event{Kind: EventWaitingForApproval})
	case protocol.EventJoinApproved:
		o.emit(Event{Kind: EventJoinApproved})
	case protocol.EventJoinRejected:
		var p protocol.JoinRejected
		msg := ""
		if env.Decode(&p) == nil {
			msg = p.Message
		}
		o.emit(Event{Kind: EventJoinRejected, Message: msg})
	case protocol.EventScreenShareStarted:
		var p protocol.ScreenShare
		if env.Decode(&p) != nil {
			return
		}
		o.emit(Event{Kind: EventScreenShareStarted, Peer: p.SocketID, Message: p.UserName})
	case protocol.EventScreenShareStopped:
		var p protocol.ScreenShare
		if env.Decode(&p) != nil {
			return
		}
		o.emit(Event{Kind: EventScreenShareStopped, Peer: p.SocketID})
	case protocol.EventForceMute:
		if o.local != nil && o.local.Audio != nil {
			o.local.Audio.SetMuted(true)
		}
		o.emit(Event{Kind: EventForceMuted})
	case protocol.EventForceRemove:
		for id := range o.links {
			o.closeLink(id, LinkClosed)
		}
		o.emit(Event{Kind: EventForceRemoved})
	case protocol.EventError:
		var p protocol.ErrorMessage
		if env.Decode(&p) == nil {
			log.Warn().Str("module", "session").Str("code", p.Code).Str("msg", p.Message).Msg("hub error")
		}
	default:
		log.Debug().Str("module", "session").Str("type", string(env.Type)).Msg("unhandled hub event")
	}
}

// onExistingPeers: the teacher initiates a connection to every listed peer;
// a student only notes the teacher exists and waits for the incoming offer.
func (o *Orchestrator) onExistingPeers(peers []protocol.PeerInfo) {
	if o.opts.Role != domain.RoleTeacher {
		return
	}
	for _, p := range peers {
		if p.SocketID == "" || p.SocketID == o.selfID {
			continue
		}
		o.ensureOfferingLink(p)
	}
}

func (o *Orchestrator) onPeerJoined(p protocol.PeerInfo) {
	if o.opts.Role != domain.RoleTeacher || p.SocketID == o.selfID {
		return
	}
	o.ensureOfferingLink(p)
}

// ensureOfferingLink creates an offering link unless a live one already
// exists for that peer: at most one link per peer is ever negotiating or
// connected on this side.
func (o *Orchestrator) ensureOfferingLink(info protocol.PeerInfo) {
	if l, ok := o.links[info.SocketID]; ok {
		if l.state == LinkNegotiating || l.state == LinkConnected {
			return
		}
		o.closeLink(info.SocketID, LinkClosed)
	}

	link, err := o.newLink(info)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", info.SocketID).Msg("new link")
		return
	}

	offer, err := link.pc.CreateOffer(context.Background())
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", info.SocketID).Msg("create offer")
		o.closeLink(info.SocketID, LinkFailed)
		return
	}
	self := protocol.PeerInfo{
		SocketID: o.selfID,
		UserID:   o.opts.Identity.UserID,
		UserName: o.opts.Identity.UserName,
		Role:     o.opts.Role,
	}
	o.send(protocol.EventOffer, protocol.Offer{To: info.SocketID, SDP: offer, UserInfo: &self})
	o.replayCandidates(link)
}

// onOffer answers an incoming offer. An existing link for the sender is
// discarded first: an incoming offer always supersedes prior negotiation
// state for that peer, which is how a host retry or reconnect heals cleanly.
func (o *Orchestrator) onOffer(msg protocol.Offer) {
	if _, ok := o.links[msg.From]; ok {
		log.Info().Str("module", "session").Str("peer", msg.From).Msg("offer supersedes existing link")
		o.closeLink(msg.From, LinkClosed)
	}

	info := protocol.PeerInfo{SocketID: msg.From}
	if msg.UserInfo != nil {
		info = *msg.UserInfo
		info.SocketID = msg.From
	}
	link, err := o.newLink(info)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", msg.From).Msg("new link")
		return
	}

	answer, err := link.pc.AcceptOffer(context.Background(), msg.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", msg.From).Msg("accept offer")
		o.closeLink(msg.From, LinkFailed)
		return
	}
	o.send(protocol.EventAnswer, protocol.Answer{To: msg.From, SDP: answer})
	o.replayCandidates(link)
}

func (o *Orchestrator) onAnswer(msg protocol.Answer) {
	link, ok := o.links[msg.From]
	if !ok || link.state != LinkNegotiating {
		log.Debug().Str("module", "session").Str("peer", msg.From).Msg("answer without negotiating link")
		return
	}
	if err := link.pc.AcceptAnswer(msg.SDP); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", msg.From).Msg("accept answer")
		o.closeLink(msg.From, LinkFailed)
	}
}

// onCandidate applies a remote candidate, or queues it when it arrives
// before the link exists so it can be replayed once negotiation starts.
func (o *Orchestrator) onCandidate(msg protocol.ICECandidate) {
	if link, ok := o.links[msg.From]; ok {
		if err := link.pc.AddICECandidate(msg.Candidate); err != nil {
			log.Debug().Err(err).Str("module", "session").Str("peer", msg.From).Msg("add candidate")
		}
		return
	}
	q := o.pending[msg.From]
	if len(q) >= pendingCandidateCap {
		return
	}
	o.pending[msg.From] = append(q, msg.Candidate)
}

func (o *Orchestrator) replayCandidates(link *PeerLink) {
	for _, c := range o.pending[link.id] {
		if err := link.pc.AddICECandidate(c); err != nil {
			log.Debug().Err(err).Str("module", "session").Str("peer", link.id).Msg("replay candidate")
		}
	}
	delete(o.pending, link.id)
}

// onRoster stores the authoritative snapshot and enforces the invariant that
// live links are a subset of the roster, tearing down anything stale
// regardless of what per-peer leave events said.
func (o *Orchestrator) onRoster(ros protocol.Roster) {
	o.roster = ros
	for id := range o.links {
		if !ros.Contains(id) {
			log.Info().Str("module", "session").Str("peer", id).Msg("link not in roster, tearing down")
			o.closeLink(id, LinkClosed)
		}
	}
	for id := range o.pending {
		if !ros.Contains(id) {
			delete(o.pending, id)
		}
	}
	snapshot := ros
	o.emit(Event{Kind: EventRosterUpdated, Roster: &snapshot})
}

// newLink builds a fresh PeerLink in the negotiating state with local tracks
// attached and callbacks routed back into the inbox.
func (o *Orchestrator) newLink(info protocol.PeerInfo) (*PeerLink, error) {
	pc, err := o.opts.Peers()
	if err != nil {
		return nil, err
	}
	link := &PeerLink{id: info.SocketID, info: info, state: LinkNew, pc: pc}

	for _, t := range o.local.Tracks() {
		outbound := t.Local()
		if t.Kind() == "video" && o.share.Active() {
			outbound = o.share.screen.Local()
		}
		sender, err := pc.AddTrack(outbound)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		switch t.Kind() {
		case "audio":
			link.audioSender = sender
		case "video":
			link.videoSender = sender
		}
	}

	pc.OnICECandidate(func(c protocol.Candidate) {
		o.post(func() {
			if o.links[link.id] != link {
				return
			}
			o.send(protocol.EventICECandidate, protocol.ICECandidate{To: link.id, Candidate: c})
		})
	})
	pc.OnTrack(func(rt RemoteTrack) {
		o.post(func() {
			if o.links[link.id] != link {
				return
			}
			link.remoteStream = rt.StreamID
			info := link.info
			track := rt
			o.emit(Event{Kind: EventRemoteTrack, Peer: link.id, Info: &info, Track: &track})
		})
	})
	pc.OnConnectionChange(func(s ConnState) {
		o.post(func() {
			if o.links[link.id] != link {
				return
			}
			switch s {
			case ConnConnected:
				if link.state == LinkNegotiating {
					link.state = LinkConnected
					o.emit(Event{Kind: EventPeerConnected, Peer: link.id})
				}
			case ConnFailed:
				// Terminal: tear down now, no automatic retry. The peer
				// stays in the roster until the hub reports a leave, so a
				// higher layer may still re-offer deliberately.
				o.closeLink(link.id, LinkFailed)
			case ConnClosed:
				o.closeLink(link.id, LinkClosed)
			}
		})
	})

	link.state = LinkNegotiating
	o.links[info.SocketID] = link
	log.Info().Str("module", "session").Str("peer", info.SocketID).
		Str("name", info.UserName).Msg("peer link created")
	return link, nil
}

// closeLink releases one link's resources and tells the UI to drop the
// peer's stream. Safe to call for unknown ids.
func (o *Orchestrator) closeLink(id string, terminal LinkState) {
	link, ok := o.links[id]
	if !ok {
		return
	}
	delete(o.links, id)
	delete(o.pending, id)
	link.state = terminal
	if err := link.pc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "session").Str("peer", id).Msg("close pc")
	}
	if terminal != LinkClosed {
		link.state = LinkClosed
	}
	link.remoteStream = ""
	o.emit(Event{Kind: EventStreamRemoved, Peer: id})
	log.Info().Str("module", "session").Str("peer", id).Str("reason", terminal.String()).Msg("peer link closed")
}

// teardown releases everything: every link, the screen capture, the local
// stream. Runs inside the loop goroutine so nothing races a new session
// starting immediately after. Idempotent: Close racing a transport shutdown
// runs the body once.
func (o *Orchestrator) teardown() {
	o.closeOnce.Do(func() {
		for id := range o.links {
			o.closeLink(id, LinkClosed)
		}
		o.share.release()
		if o.local != nil {
			o.local.Close()
		}
		o.emit(Event{Kind: EventSessionClosed})
		close(o.done)
		close(o.events)
	})
}

// Close ends the session: synchronously closes every peer link and releases
// every local media track before returning. Idempotent.
func (o *Orchestrator) Close() {
	if !o.started {
		return
	}
	ack := make(chan struct{})
	select {
	case o.inbox <- func() {
		o.opts.Signaling.Close()
		o.teardown()
		close(ack)
	}:
	case <-o.done:
		return
	}
	select {
	case <-ack:
	case <-o.done:
	}
}

// --- UI command surface -------------------------------------------------

// SendChat broadcasts a chat message to the room. The local copy arrives
// back through the event stream like everyone else's.
func (o *Orchestrator) SendChat(text string) {
	o.post(func() {
		o.send(protocol.EventChatMessage, protocol.ChatMessage{
			ID:      uuid.NewString(),
			Sender:  o.opts.Identity.UserName,
			Message: text,
			Time:    time.Now().Format("15:04"),
			Role:    o.opts.Role,
			UserID:  o.opts.Identity.UserID,
		})
	})
}

// RaiseHand sends a question to the teacher. Student-side only; the hub
// ignores it otherwise.
func (o *Orchestrator) RaiseHand(question string) {
	o.post(func() {
		o.send(protocol.EventRaiseHand, protocol.RaiseHand{Question: question})
	})
}

// DismissQuestion drops a pending question locally. Resolution is teacher-
// side UI state and is not synchronized back through the hub.
func (o *Orchestrator) DismissQuestion(socketID string) {
	o.post(func() {
		kept := o.pendingHands[:0]
		for _, h := range o.pendingHands {
			if h.SocketID != socketID {
				kept = append(kept, h)
			}
		}
		o.pendingHands = kept
	})
}

// AcceptStudent admits a waiting student (teacher only).
func (o *Orchestrator) AcceptStudent(socketID string) {
	o.post(func() {
		o.send(protocol.EventAcceptStudent, protocol.AcceptStudent{
			StudentSocketID: socketID,
			RoomID:          o.opts.RoomID,
		})
	})
}

// RejectStudent declines a waiting student (teacher only).
func (o *Orchestrator) RejectStudent(socketID string) {
	o.post(func() {
		o.send(protocol.EventRejectStudent, protocol.RejectStudent{
			StudentSocketID: socketID,
			RoomID:          o.opts.RoomID,
		})
	})
}

// MuteStudent asks the hub to force-mute a student (teacher only).
func (o *Orchestrator) MuteStudent(socketID string) {
	o.post(func() {
		o.send(protocol.EventMuteUser, protocol.MuteUser{TargetSocketID: socketID})
	})
}

// RemoveStudent ejects a student from the class (teacher only).
func (o *Orchestrator) RemoveStudent(socketID string) {
	o.post(func() {
		o.send(protocol.EventRemoveUser, protocol.RemoveUser{TargetSocketID: socketID})
	})
}

// SetMicMuted toggles the local audio track.
func (o *Orchestrator) SetMicMuted(muted bool) {
	o.post(func() {
		if o.local.Audio != nil {
			o.local.Audio.SetMuted(muted)
		}
	})
}

// SetCameraMuted toggles the local video track.
func (o *Orchestrator) SetCameraMuted(muted bool) {
	o.post(func() {
		if o.local.Video != nil {
			o.local.Video.SetMuted(muted)
		}
	})
}

// StartScreenShare swaps the outgoing video to a screen capture on every
// live link. Fails synchronously with no state change if capture cannot be
// acquired.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	var err error
	if cerr := o.call(func() { err = o.share.start(ctx) }); cerr != nil {
		return cerr
	}
	return err
}

// StopScreenShare restores the camera track everywhere. Calling it when no
// share is active is a no-op.
func (o *Orchestrator) StopScreenShare() {
	_ = o.call(func() { o.share.stop() })
}

// Roster returns the most recently received membership snapshot.
func (o *Orchestrator) Roster() protocol.Roster {
	var ros protocol.Roster
	_ = o.call(func() { ros = o.roster })
	return ros
}

// ChatLog returns a copy of the accumulated chat history.
func (o *Orchestrator) ChatLog() []protocol.ChatMessage {
	var out []protocol.ChatMessage
	_ = o.call(func() {
		out = make([]protocol.ChatMessage, len(o.chatLog))
		copy(out, o.chatLog)
	})
	return out
}

// PendingQuestions returns the teacher's unresolved hand-raises.
func (o *Orchestrator) PendingQuestions() []protocol.HandRaised {
	var out []protocol.HandRaised
	_ = o.call(func() {
		out = make([]protocol.HandRaised, len(o.pendingHands))
		copy(out, o.pendingHands)
	})
	return out
}

// LinkStates reports the live link state per peer. Primarily for tests and
// diagnostics.
func (o *Orchestrator) LinkStates() map[string]LinkState {
	out := make(map[string]LinkState)
	_ = o.call(func() {
		for id, l := range o.links {
			out[id] = l.state
		}
	})
	return out
}
