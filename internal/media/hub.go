package media

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/app"
	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

// Hub creates one RTPSink per participant tile: camera and audio for remote
// members, camera and a dedicated screen sink for the local one.
type Hub struct {
	mu    sync.RWMutex
	sinks map[domain.ParticipantID]map[app.SinkRole]*RTPSink
}

func NewHub() *Hub {
	return &Hub{sinks: make(map[domain.ParticipantID]map[app.SinkRole]*RTPSink)}
}

// SinkInfo is a read-only view for APIs.
type SinkInfo struct {
	Participant domain.ParticipantID `json:"participant"`
	Role        app.SinkRole         `json:"role"`
	HandleID    string               `json:"handle_id,omitempty"`
	State       string               `json:"state"`
	Forwarded   uint64               `json:"forwarded"`
}

func rolesFor(p domain.Participant) []app.SinkRole {
	if p.IsLocal() {
		return []app.SinkRole{app.RoleCamera, app.RoleScreen}
	}
	return []app.SinkRole{app.RoleCamera, app.RoleAudio}
}

func capabilityFor(role app.SinkRole) webrtc.RTPCodecCapability {
	if role == app.RoleAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (h *Hub) SinksFor(p domain.Participant) map[app.SinkRole]core.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.sinks[p.ID]
	if !ok {
		bucket = make(map[app.SinkRole]*RTPSink)
		h.sinks[p.ID] = bucket
	}
	out := make(map[app.SinkRole]core.Sink, 2)
	for _, role := range rolesFor(p) {
		s, ok := bucket[role]
		if !ok {
			name := fmt.Sprintf("%s-%s", p.ID, role)
			track, err := webrtc.NewTrackLocalStaticRTP(capabilityFor(role), name, string(p.ID))
			if err != nil {
				log.Error().Err(err).Str("module", "media.hub").Str("sink", name).Msg("create output track")
				continue
			}
			s = NewRTPSink(name, track)
			bucket[role] = s
		}
		out[role] = s
	}
	log.Info().Str("module", "media.hub").Str("participant", string(p.ID)).Int("sinks", len(out)).Msg("sinks created")
	return out
}

func (h *Hub) Release(pid domain.ParticipantID) {
	h.mu.Lock()
	bucket, ok := h.sinks[pid]
	delete(h.sinks, pid)
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range bucket {
		s.Close()
	}
	log.Info().Str("module", "media.hub").Str("participant", string(pid)).Msg("sinks released")
}

// Track returns the output track of a sink, for publishing downstream.
func (h *Hub) Track(pid domain.ParticipantID, role app.SinkRole) (*webrtc.TrackLocalStaticRTP, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sinks[pid][role]
	if !ok {
		return nil, false
	}
	return s.Out, true
}

// Snapshot lists all sinks ordered by participant and role.
func (h *Hub) Snapshot() []SinkInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SinkInfo, 0, len(h.sinks)*2)
	for pid, bucket := range h.sinks {
		for role, s := range bucket {
			out = append(out, SinkInfo{
				Participant: pid,
				Role:        role,
				HandleID:    s.HandleID(),
				State:       s.GetState().String(),
				Forwarded:   s.Forwarded(),
			})
		}
	}
	slices.SortFunc(out, func(a, b SinkInfo) int {
		if c := strings.Compare(string(a.Participant), string(b.Participant)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Role), string(b.Role))
	})
	return out
}
