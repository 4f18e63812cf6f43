package rtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

var (
	ErrBusy           = errors.New("transport already in a call")
	ErrNotJoined      = errors.New("transport not joined")
	ErrNoScreenSource = errors.New("no screen source configured")
	ErrJoinTimeout    = errors.New("join timed out")
	ErrPeerFailed     = errors.New("peer connection failed")
)

// RejectedError is the server's refusal of a join.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "join rejected: " + e.Reason }

// ServerError is an error reported by the server during the call.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string { return "server error: " + e.Reason }

const (
	DefaultSignalPath  = "/api/ws/signal"
	DefaultJoinTimeout = 15 * time.Second
	defaultWriteWait   = 5 * time.Second
	teardownTimeout    = time.Second
	eventBuffer        = 128
)

type Options struct {
	SignalPath string
	UserName   string
	ICEServers []string
	// Local sources. A nil source is reported as an "off" track.
	Camera     webrtc.TrackLocal
	Microphone webrtc.TrackLocal
	Screen     webrtc.TrackLocal

	Dialer       *websocket.Dialer
	JoinTimeout  time.Duration
	WriteTimeout time.Duration
}

// Transport implements core.CallTransport over websocket signaling and a
// single pion peer connection.
type Transport struct {
	opts   Options
	events chan core.Event
	logger zerolog.Logger

	mu   sync.Mutex
	sess *session
}

type member struct {
	name   string
	states map[domain.TrackKind]domain.TrackState
}

type session struct {
	room  string
	ready chan error
	done  chan struct{}

	mu     sync.Mutex
	sig    *signalConn
	conn   *Connection
	closed bool

	// guarded by Transport.mu
	joined  bool
	members map[domain.ParticipantID]*member
	remote  map[domain.ParticipantID]map[domain.TrackKind]*webrtc.TrackRemote
	sharing bool

	shareMu sync.Mutex
	screen  *webrtc.RTPSender
}

func New(opts Options) *Transport {
	if opts.SignalPath == "" {
		opts.SignalPath = DefaultSignalPath
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteWait
	}
	return &Transport{
		opts:   opts,
		events: make(chan core.Event, eventBuffer),
		logger: log.With().Str("module", "rtc.transport").Logger(),
	}
}

func (t *Transport) Events() <-chan core.Event { return t.events }

// emit never blocks the signaling or pion goroutines. Sync events are
// full-refresh triggers, so a dropped one is covered by those still queued.
func (t *Transport) emit(ev core.Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn().Str("event", string(ev.Type)).Msg("event buffer full, dropping")
	}
}

func (t *Transport) Join(ctx context.Context, url domain.ConversationURL) error {
	wsURL, room, err := signalURL(url, t.opts.SignalPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.sess != nil {
		t.mu.Unlock()
		return ErrBusy
	}
	s := &session{
		room:    room,
		ready:   make(chan error, 1),
		done:    make(chan struct{}),
		members: make(map[domain.ParticipantID]*member),
		remote:  make(map[domain.ParticipantID]map[domain.TrackKind]*webrtc.TrackRemote),
	}
	t.sess = s
	t.mu.Unlock()

	logger := t.logger.With().Str("room", room).Logger()
	if err := t.connect(ctx, s, wsURL, logger); err != nil {
		t.teardown(s)
		return err
	}

	timer := time.NewTimer(t.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case err = <-s.ready:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = ErrJoinTimeout
	case <-s.done:
		return ErrSignalClosed
	}
	if err != nil {
		t.teardown(s)
		return err
	}
	logger.Info().Msg("joined room")
	t.emit(core.Event{Type: core.EventJoinedMeeting})
	return nil
}

func (t *Transport) connect(ctx context.Context, s *session, wsURL string, logger zerolog.Logger) error {
	ws, _, err := t.opts.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	sig := newSignalConn(ws, t.opts.WriteTimeout, logger)

	conn, err := NewConnection(DefaultWebRTCConfig(t.opts.ICEServers), s.room)
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("peer connection: %w", err)
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		_ = sig.sendJSON(signalMessage{Type: msgCandidate, Candidate: &ci})
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) { t.onTrack(s, track) })
	conn.OnClosed(func() { t.onPeerFailed(s) })
	conn.Start()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		_ = ws.Close()
		return ErrSignalClosed
	}
	s.sig, s.conn = sig, conn
	s.mu.Unlock()
	sig.run(func(m signalMessage) { t.handleSignal(s, m) }, func() { t.onSignalClosed(s) })

	for _, src := range []webrtc.TrackLocal{t.opts.Camera, t.opts.Microphone} {
		if src == nil {
			continue
		}
		if _, err := conn.AddLocalTrack(src); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if err := conn.ReceiveOnly(kind); err != nil {
			return fmt.Errorf("add transceiver: %w", err)
		}
	}

	if err := sig.sendJSON(signalMessage{Type: msgJoin, Room: s.room, Name: t.opts.UserName}); err != nil {
		return err
	}
	return t.negotiate(s)
}

func (t *Transport) negotiate(s *session) error {
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return s.sig.sendJSON(signalMessage{Type: msgOffer, SDP: offer.SDP})
}

// Leave sends a leave message, flushes signaling and closes the peer connection.
func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	s := t.sess
	t.sess = nil
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.sig != nil {
		_ = s.sig.sendJSON(signalMessage{Type: msgLeave})
	}
	s.mu.Unlock()
	t.logger.Info().Str("room", s.room).Msg("leaving room")
	return s.close(ctx)
}

func (t *Transport) teardown(s *session) {
	t.mu.Lock()
	if t.sess == s {
		t.sess = nil
	}
	t.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	_ = s.close(ctx)
}

func (s *session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sig, conn := s.sig, s.conn
	s.mu.Unlock()

	var err error
	if sig != nil {
		sig.Close(ctx)
	}
	if conn != nil {
		err = conn.Close()
	}
	close(s.done)
	return err
}

// current reports whether s is still the active session. Callers hold t.mu.
func (t *Transport) current(s *session) bool { return t.sess == s }

func (t *Transport) handleSignal(s *session, m signalMessage) {
	logger := t.logger.With().Str("room", s.room).Str("type", m.Type).Logger()
	switch m.Type {
	case msgAnswer:
		if err := s.conn.ApplyAnswer(m.SDP); err != nil {
			logger.Error().Err(err).Msg("apply answer")
		}
	case msgOffer:
		answer, err := s.conn.ApplyOfferAndCreateAnswer(m.SDP)
		if err != nil {
			logger.Error().Err(err).Msg("apply offer")
			return
		}
		_ = s.sig.sendJSON(signalMessage{Type: msgAnswer, SDP: answer.SDP})
	case msgCandidate:
		if m.Candidate == nil {
			return
		}
		if err := s.conn.AddICECandidate(*m.Candidate); err != nil {
			logger.Error().Err(err).Msg("add ice candidate")
		}
	case msgRoomState:
		t.onRoomState(s, m.Members)
	case msgMemberJoined, msgMemberUpdated:
		if m.Member != nil {
			t.onMember(s, m.Type, *m.Member)
		}
	case msgMemberLeft:
		if m.Member != nil {
			t.onMemberLeft(s, m.Member.ID)
		}
	case msgLeft:
		t.mu.Lock()
		wasJoined := t.current(s) && s.joined
		t.mu.Unlock()
		t.teardown(s)
		if wasJoined {
			t.emit(core.Event{Type: core.EventLeftMeeting})
		}
	case msgError:
		t.mu.Lock()
		active, joined := t.current(s), s.joined
		t.mu.Unlock()
		switch {
		case !active:
		case !joined:
			resolve(s, &RejectedError{Reason: m.Error})
		default:
			t.emit(core.Event{Type: core.EventError, Err: &ServerError{Reason: m.Error}})
		}
	default:
		logger.Warn().Msg("unknown signal")
	}
}

func resolve(s *session, err error) {
	select {
	case s.ready <- err:
	default:
	}
}

func (t *Transport) onRoomState(s *session, members []memberInfo) {
	t.mu.Lock()
	if !t.current(s) {
		t.mu.Unlock()
		return
	}
	s.members = make(map[domain.ParticipantID]*member, len(members))
	for _, mi := range members {
		t.putMemberLocked(s, mi)
	}
	s.joined = true
	t.mu.Unlock()
	resolve(s, nil)
}

func (t *Transport) putMemberLocked(s *session, mi memberInfo) bool {
	if mi.ID == "" || mi.ID == domain.LocalParticipantID {
		t.logger.Warn().Str("member", string(mi.ID)).Msg("member with reserved id ignored")
		return false
	}
	m, ok := s.members[mi.ID]
	if !ok {
		m = &member{states: make(map[domain.TrackKind]domain.TrackState)}
		s.members[mi.ID] = m
	}
	if mi.Name != "" {
		m.name = mi.Name
	}
	for kind, st := range mi.Tracks {
		m.states[kind] = st
	}
	return true
}

func (t *Transport) onMember(s *session, typ string, mi memberInfo) {
	t.mu.Lock()
	ok := t.current(s) && s.joined && t.putMemberLocked(s, mi)
	t.mu.Unlock()
	if !ok {
		return
	}
	ev := core.EventParticipantUpdated
	if typ == msgMemberJoined {
		ev = core.EventParticipantJoined
	}
	t.emit(core.Event{Type: ev, Participant: mi.ID})
}

func (t *Transport) onMemberLeft(s *session, id domain.ParticipantID) {
	t.mu.Lock()
	_, known := s.members[id]
	ok := t.current(s) && known
	delete(s.members, id)
	delete(s.remote, id)
	t.mu.Unlock()
	if ok {
		t.emit(core.Event{Type: core.EventParticipantLeft, Participant: id})
	}
}

func (t *Transport) onTrack(s *session, track *webrtc.TrackRemote) {
	pid := domain.ParticipantID(track.StreamID())
	kind := domain.TrackVideo
	switch {
	case track.Kind() == webrtc.RTPCodecTypeAudio:
		kind = domain.TrackAudio
	case strings.HasPrefix(track.ID(), "screen"):
		kind = domain.TrackScreenVideo
	}

	t.mu.Lock()
	if !t.current(s) {
		t.mu.Unlock()
		return
	}
	if s.remote[pid] == nil {
		s.remote[pid] = make(map[domain.TrackKind]*webrtc.TrackRemote)
	}
	s.remote[pid][kind] = track
	_, known := s.members[pid]
	joined := s.joined
	t.mu.Unlock()

	if known && joined {
		t.emit(core.Event{Type: core.EventParticipantUpdated, Participant: pid})
	}
}

func (t *Transport) onSignalClosed(s *session) {
	t.mu.Lock()
	active, joined := t.current(s), s.joined
	t.mu.Unlock()
	if !active {
		return
	}
	if !joined {
		resolve(s, ErrSignalClosed)
		return
	}
	// The session is gone with the socket, so the call is over as well.
	t.teardown(s)
	t.emit(core.Event{Type: core.EventError, Err: ErrSignalClosed})
	t.emit(core.Event{Type: core.EventLeftMeeting})
}

func (t *Transport) onPeerFailed(s *session) {
	t.mu.Lock()
	active, joined := t.current(s), s.joined
	t.mu.Unlock()
	switch {
	case !active:
	case !joined:
		resolve(s, ErrPeerFailed)
	default:
		t.emit(core.Event{Type: core.EventError, Err: ErrPeerFailed})
	}
}

// Participants builds the registry from the room members and received tracks.
func (t *Transport) Participants() map[domain.ParticipantID]domain.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.ParticipantID]domain.Participant)
	s := t.sess
	if s == nil || !s.joined {
		return out
	}

	local := domain.NewParticipant(domain.LocalParticipantID, t.opts.UserName)
	local.Tracks[domain.TrackVideo] = localTrack(domain.TrackVideo, t.opts.Camera)
	local.Tracks[domain.TrackAudio] = localTrack(domain.TrackAudio, t.opts.Microphone)
	if s.sharing {
		local.Tracks[domain.TrackScreenVideo] = localTrack(domain.TrackScreenVideo, t.opts.Screen)
	}
	out[local.ID] = local

	for id, m := range s.members {
		p := domain.NewParticipant(id, m.name)
		received := s.remote[id]
		for kind, st := range m.states {
			p.Tracks[kind] = remoteTrack(kind, st, received[kind])
		}
		for kind, tr := range received {
			if _, ok := m.states[kind]; !ok {
				p.Tracks[kind] = remoteTrack(kind, domain.TrackPlayable, tr)
			}
		}
		out[id] = p
	}
	return out
}

func localTrack(kind domain.TrackKind, src webrtc.TrackLocal) domain.Track {
	if src == nil {
		return domain.Track{Kind: kind, State: domain.TrackOff}
	}
	return domain.Track{Kind: kind, State: domain.TrackPlayable, Handle: src}
}

// remoteTrack only carries a handle when the member reports it playable and
// the media actually arrived.
func remoteTrack(kind domain.TrackKind, st domain.TrackState, tr *webrtc.TrackRemote) domain.Track {
	if st != domain.TrackPlayable {
		return domain.Track{Kind: kind, State: st}
	}
	if tr == nil {
		return domain.Track{Kind: kind, State: domain.TrackLoading}
	}
	return domain.Track{Kind: kind, State: domain.TrackPlayable, Handle: tr}
}

func (t *Transport) joinedSession() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil || !t.sess.joined {
		return nil, ErrNotJoined
	}
	return t.sess, nil
}

func (t *Transport) StartScreenShare(ctx context.Context) error {
	s, err := t.joinedSession()
	if err != nil {
		return err
	}
	if t.opts.Screen == nil {
		return ErrNoScreenSource
	}
	s.shareMu.Lock()
	defer s.shareMu.Unlock()
	if s.screen != nil {
		return nil
	}
	sender, err := s.conn.AddLocalTrack(t.opts.Screen)
	if err != nil {
		return fmt.Errorf("add screen track: %w", err)
	}
	if err := t.negotiate(s); err != nil {
		_ = s.conn.RemoveSender(sender)
		return err
	}
	s.screen = sender
	t.setSharing(s, true)
	return nil
}

func (t *Transport) StopScreenShare(ctx context.Context) error {
	s, err := t.joinedSession()
	if err != nil {
		return err
	}
	s.shareMu.Lock()
	defer s.shareMu.Unlock()
	if s.screen == nil {
		return nil
	}
	if err := s.conn.RemoveSender(s.screen); err != nil {
		return fmt.Errorf("remove screen track: %w", err)
	}
	s.screen = nil
	if err := t.negotiate(s); err != nil {
		t.logger.Error().Err(err).Msg("renegotiate after screen share stop")
	}
	t.setSharing(s, false)
	return nil
}

func (t *Transport) setSharing(s *session, on bool) {
	t.mu.Lock()
	s.sharing = on
	t.mu.Unlock()
	_ = s.sig.sendJSON(signalMessage{Type: msgScreenShare, Active: &on})
	ev := core.EventStoppedScreenShare
	if on {
		ev = core.EventStartedScreenShare
	}
	t.emit(core.Event{Type: ev, Participant: domain.LocalParticipantID})
}
