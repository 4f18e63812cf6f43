package domain

type CallStatus string

const (
	StatusIdle         CallStatus = "idle"
	StatusConnecting   CallStatus = "connecting"
	StatusJoining      CallStatus = "joining"
	StatusConnected    CallStatus = "connected"
	StatusFailed       CallStatus = "failed"
	StatusDisconnected CallStatus = "disconnected"
)

// Tone is the visual state of the status banner.
type Tone string

const (
	ToneNone    Tone = ""
	ToneNeutral Tone = "neutral"
	ToneSuccess Tone = "success"
	ToneFailed  Tone = "failed"
)

type (
	PersonaID       string
	ConversationURL string
)
