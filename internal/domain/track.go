package domain

type TrackKind string

const (
	TrackVideo       TrackKind = "video"
	TrackAudio       TrackKind = "audio"
	TrackScreenVideo TrackKind = "screenVideo"
)

type TrackState string

const (
	TrackPlayable    TrackState = "playable"
	TrackLoading     TrackState = "loading"
	TrackInterrupted TrackState = "interrupted"
	TrackBlocked     TrackState = "blocked"
	TrackOff         TrackState = "off"
)

// MediaHandle is the underlying media stream of a track, owned by the transport.
type MediaHandle interface {
	ID() string
}

type Track struct {
	Kind   TrackKind
	State  TrackState
	Handle MediaHandle
}

// Playable reports whether the track may be attached to a sink.
func (t Track) Playable() bool {
	return t.State == TrackPlayable && t.Handle != nil
}

// HandleID is empty when there is no handle.
func (t Track) HandleID() string {
	if t.Handle == nil {
		return ""
	}
	return t.Handle.ID()
}
