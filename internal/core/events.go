package core

import "github.com/dkeye/AvatarCall/internal/domain"

type EventType string

const (
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantUpdated EventType = "participant-updated"
	EventParticipantLeft    EventType = "participant-left"
	EventStartedScreenShare EventType = "started-screen-share"
	EventStoppedScreenShare EventType = "stopped-screen-share"
	EventJoinedMeeting      EventType = "joined-meeting"
	EventLeftMeeting        EventType = "left-meeting"
	EventError              EventType = "error"
)

type Event struct {
	Type        EventType
	Participant domain.ParticipantID
	// Err is set for EventError.
	Err error
}

// SyncsParticipants reports whether the event requires a participant snapshot refresh.
func (t EventType) SyncsParticipants() bool {
	switch t {
	case EventParticipantJoined, EventParticipantUpdated, EventParticipantLeft,
		EventStartedScreenShare, EventStoppedScreenShare, EventJoinedMeeting:
		return true
	}
	return false
}
