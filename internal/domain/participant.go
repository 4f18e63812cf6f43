// Package domain contains call entities without transport logic, just meta-data
package domain

import "maps"

type ParticipantID string

// LocalParticipantID is the reserved identifier of the local member.
const LocalParticipantID ParticipantID = "local"

type Participant struct {
	ID       ParticipantID
	UserName string
	Tracks   map[TrackKind]Track
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ParticipantID, userName string) Participant {
	return Participant{
		ID:       id,
		UserName: userName,
		Tracks:   make(map[TrackKind]Track),
	}
}

func (p Participant) IsLocal() bool { return p.ID == LocalParticipantID }

// PlayableTrack returns the track of the given kind if it can be rendered.
func (p Participant) PlayableTrack(kind TrackKind) (Track, bool) {
	t, ok := p.Tracks[kind]
	if !ok || !t.Playable() {
		return Track{}, false
	}
	return t, true
}

// Clone returns a copy that does not share the track map.
func (p Participant) Clone() Participant {
	out := p
	out.Tracks = maps.Clone(p.Tracks)
	if out.Tracks == nil {
		out.Tracks = make(map[TrackKind]Track)
	}
	return out
}
