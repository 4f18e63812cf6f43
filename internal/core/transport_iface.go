package core

import (
	"context"

	"github.com/dkeye/AvatarCall/internal/domain"
)

// CallTransport abstracts the real-time media session.
// Owned by whoever constructs it; a controller only operates it.
type CallTransport interface {
	// Join connects to the conversation at url. It returns once the
	// transport accepted or rejected the join.
	Join(ctx context.Context, url domain.ConversationURL) error
	// Leave releases media devices and the session. Safe to call when not joined.
	Leave(ctx context.Context) error
	// Participants returns the authoritative registry, local member keyed by
	// domain.LocalParticipantID.
	Participants() map[domain.ParticipantID]domain.Participant
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	// Events is the transport's event stream. It is never closed while the
	// transport is in use.
	Events() <-chan Event
}
