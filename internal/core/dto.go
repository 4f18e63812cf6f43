package core

import "github.com/dkeye/AvatarCall/internal/domain"

// TrackDTO is a read-only view for APIs (no media handles).
type TrackDTO struct {
	State    domain.TrackState `json:"state"`
	HandleID string            `json:"handle_id,omitempty"`
}

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	ID       domain.ParticipantID          `json:"id"`
	UserName string                        `json:"user_name"`
	Tracks   map[domain.TrackKind]TrackDTO `json:"tracks"`
}

func NewParticipantDTO(p domain.Participant) ParticipantDTO {
	dto := ParticipantDTO{
		ID:       p.ID,
		UserName: p.UserName,
		Tracks:   make(map[domain.TrackKind]TrackDTO, len(p.Tracks)),
	}
	for kind, t := range p.Tracks {
		dto.Tracks[kind] = TrackDTO{State: t.State, HandleID: t.HandleID()}
	}
	return dto
}
