package app

import (
	"maps"
	"slices"
	"strings"

	"github.com/dkeye/AvatarCall/internal/domain"
)

// Status banner messages.
const (
	MsgCreatingCall      = "Creating call..."
	MsgJoining           = "Joining conversation..."
	MsgConnected         = "Connected successfully!"
	MsgCreateFailed      = "Failed to create call"
	MsgNoConversationURL = "Failed to get conversation URL"
	MsgConnectFailed     = "Failed to connect"
	MsgDisconnected      = "Disconnected"
	MsgConnectionError   = "Connection error"
)

// State is an immutable view of the call session for UI binding.
type State struct {
	SessionID           string
	Status              domain.CallStatus
	Message             string
	Tone                domain.Tone
	ConversationURL     domain.ConversationURL
	ConversationVisible bool
	ScreenSharing       bool
	Local               *domain.Participant
	Remotes             map[domain.ParticipantID]domain.Participant
}

func idleState() State {
	return State{
		Status:  domain.StatusIdle,
		Remotes: make(map[domain.ParticipantID]domain.Participant),
	}
}

func (s State) Clone() State {
	out := s
	if s.Local != nil {
		lp := s.Local.Clone()
		out.Local = &lp
	}
	out.Remotes = make(map[domain.ParticipantID]domain.Participant, len(s.Remotes))
	for id, p := range s.Remotes {
		out.Remotes[id] = p.Clone()
	}
	return out
}

// RemoteIDs returns remote participant ids in stable order.
func (s State) RemoteIDs() []domain.ParticipantID {
	ids := slices.Collect(maps.Keys(s.Remotes))
	slices.SortFunc(ids, func(a, b domain.ParticipantID) int { return strings.Compare(string(a), string(b)) })
	return ids
}

// Participants lists the local participant first, then remotes by id.
func (s State) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.Remotes)+1)
	if s.Local != nil {
		out = append(out, *s.Local)
	}
	for _, id := range s.RemoteIDs() {
		out = append(out, s.Remotes[id])
	}
	return out
}
