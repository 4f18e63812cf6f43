package app

import (
	"errors"

	"github.com/dkeye/AvatarCall/internal/domain"
)

var (
	ErrJoinInFlight   = errors.New("join already in progress")
	ErrAlreadyJoined  = errors.New("call already joined")
	ErrClosed         = errors.New("controller closed")
	ErrAlreadyRunning = errors.New("controller already running")
)

// JoinError reports that the transport rejected a join.
type JoinError struct {
	URL domain.ConversationURL
	Err error
}

func (e *JoinError) Error() string { return "join " + string(e.URL) + ": " + e.Err.Error() }
func (e *JoinError) Unwrap() error { return e.Err }

// TransportError is a runtime error signalled by an active session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return "transport error: " + e.Err.Error()
}
func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError reports a rejected screen share start or stop.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return "screen share " + e.Op + ": " + e.Err.Error() }
func (e *DeviceError) Unwrap() error { return e.Err }
