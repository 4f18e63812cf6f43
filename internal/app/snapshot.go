package app

import "github.com/dkeye/AvatarCall/internal/domain"

// partition splits the transport registry into the local participant and
// remotes keyed by id. The map key is authoritative for the id.
func partition(all map[domain.ParticipantID]domain.Participant) (*domain.Participant, map[domain.ParticipantID]domain.Participant) {
	var local *domain.Participant
	remotes := make(map[domain.ParticipantID]domain.Participant, len(all))
	for id, p := range all {
		p = p.Clone()
		p.ID = id
		if id == domain.LocalParticipantID {
			local = &p
			continue
		}
		remotes[id] = p
	}
	return local, remotes
}
