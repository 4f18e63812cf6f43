package app

import (
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

// SinkRegistry holds rendering sinks per participant and role.
type SinkRegistry struct {
	mu    sync.RWMutex
	sinks map[domain.ParticipantID]map[SinkRole]core.Sink
}

func NewSinkRegistry() *SinkRegistry {
	return &SinkRegistry{
		sinks: make(map[domain.ParticipantID]map[SinkRole]core.Sink),
	}
}

func (r *SinkRegistry) Register(pid domain.ParticipantID, role SinkRole, s core.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.sinks[pid]
	if !ok {
		bucket = make(map[SinkRole]core.Sink)
		r.sinks[pid] = bucket
	}
	bucket[role] = s
	log.Debug().Str("module", "app.sinks").Str("participant", string(pid)).Str("role", string(role)).Msg("sink registered")
}

func (r *SinkRegistry) Unregister(pid domain.ParticipantID, role SinkRole) (core.Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.sinks[pid]
	if !ok {
		return nil, false
	}
	s, ok := bucket[role]
	if !ok {
		return nil, false
	}
	delete(bucket, role)
	if len(bucket) == 0 {
		delete(r.sinks, pid)
	}
	log.Debug().Str("module", "app.sinks").Str("participant", string(pid)).Str("role", string(role)).Msg("sink unregistered")
	return s, true
}

// UnregisterParticipant drops every sink of pid and returns them.
func (r *SinkRegistry) UnregisterParticipant(pid domain.ParticipantID) []core.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.sinks[pid]
	if !ok {
		return nil
	}
	delete(r.sinks, pid)
	return slices.Collect(maps.Values(bucket))
}

func (r *SinkRegistry) Get(pid domain.ParticipantID, role SinkRole) (core.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[pid][role]
	return s, ok
}

func (r *SinkRegistry) Roles(pid domain.ParticipantID) []SinkRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Keys(r.sinks[pid]))
}

func (r *SinkRegistry) Participants() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Keys(r.sinks))
}

// Sinks returns a copy of pid's sinks.
func (r *SinkRegistry) Sinks(pid domain.ParticipantID) map[SinkRole]core.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.sinks[pid])
}
