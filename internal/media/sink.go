package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/domain"
)

type SinkState int32

const (
	SinkIdle SinkState = iota
	SinkForwarding
	SinkClosed
)

func (s SinkState) String() string {
	switch s {
	case SinkForwarding:
		return "forwarding"
	case SinkClosed:
		return "closed"
	}
	return "idle"
}

// RTPReader is implemented by handles carrying RTP, e.g. *webrtc.TrackRemote.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTPSink forwards the attached handle's RTP packets into a local track.
type RTPSink struct {
	Out *webrtc.TrackLocalStaticRTP

	mu     sync.Mutex
	handle domain.MediaHandle
	// One reader per source. A detached pump keeps draining its source so a
	// re-attach resumes it instead of racing a second reader.
	pumps  map[string]*pump
	active *pump

	state     atomic.Int32 // Zero by default (SinkIdle)
	forwarded atomic.Uint64
	logger    zerolog.Logger
}

type pump struct {
	id      string
	src     RTPReader
	forward atomic.Bool
}

func NewRTPSink(name string, out *webrtc.TrackLocalStaticRTP) *RTPSink {
	return &RTPSink{
		Out:    out,
		pumps:  make(map[string]*pump),
		logger: log.With().Str("module", "media.sink").Str("sink", name).Logger(),
	}
}

// Attach starts forwarding h. Attaching the handle already forwarded is a no-op.
func (s *RTPSink) Attach(h domain.MediaHandle) {
	if h == nil {
		s.Detach()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetState() == SinkClosed {
		return
	}
	if s.handle != nil && s.handle.ID() == h.ID() {
		return
	}
	s.stopLocked()
	s.handle = h

	reader, ok := h.(RTPReader)
	if !ok {
		s.logger.Debug().Str("handle", h.ID()).Msg("handle carries no RTP, nothing to forward")
		return
	}
	p, running := s.pumps[h.ID()]
	if !running || p.src != reader {
		p = &pump{id: h.ID(), src: reader}
		s.pumps[p.id] = p
		go s.loop(p)
	}
	p.forward.Store(true)
	s.active = p
	s.state.Store(int32(SinkForwarding))
	s.logger.Info().Str("handle", h.ID()).Bool("resumed", running).Msg("attached")
}

func (s *RTPSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return
	}
	s.logger.Info().Str("handle", s.handle.ID()).Msg("detached")
	s.stopLocked()
	s.handle = nil
}

// Close detaches and refuses further attachments. Pumps exit on their next read.
func (s *RTPSink) Close() {
	s.Detach()
	s.state.Store(int32(SinkClosed))
}

func (s *RTPSink) HandleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.ID()
}

func (s *RTPSink) GetState() SinkState { return SinkState(s.state.Load()) }

// Forwarded is the number of packets written to Out.
func (s *RTPSink) Forwarded() uint64 { return s.forwarded.Load() }

func (s *RTPSink) stopLocked() {
	if s.active != nil {
		s.active.forward.Store(false)
		s.active = nil
	}
	if s.GetState() == SinkForwarding {
		s.state.Store(int32(SinkIdle))
	}
}

func (s *RTPSink) removePump(p *pump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pumps[p.id] == p {
		delete(s.pumps, p.id)
	}
	if s.active == p {
		s.active = nil
		if s.GetState() == SinkForwarding {
			s.state.Store(int32(SinkIdle))
		}
	}
}

// loop reads RTP packets from the source until it ends or the sink is
// closed, forwarding them to Out while the pump is attached.
func (s *RTPSink) loop(p *pump) {
	logger := s.logger.With().Str("handle", p.id).Logger()
	defer s.removePump(p)
	for {
		pkt, _, err := p.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("source ended, stopping")
			return
		}
		if s.GetState() == SinkClosed {
			return
		}
		if !p.forward.Load() {
			continue
		}
		if err := s.Out.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("write RTP error, stopping")
			return
		}
		s.forwarded.Add(1)
	}
}
