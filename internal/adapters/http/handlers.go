package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/AvatarCall/internal/app"
	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

type handlers struct {
	svc     CallService
	sinks   SinkLister
	limiter *JoinLimiter

	readLimit  int64
	pingPeriod time.Duration
}

// StateResponse is the UI binding of app.State.
type StateResponse struct {
	SessionID           string                 `json:"session_id,omitempty"`
	Status              domain.CallStatus      `json:"status"`
	Message             string                 `json:"message"`
	Tone                domain.Tone            `json:"tone"`
	ConversationURL     domain.ConversationURL `json:"conversation_url,omitempty"`
	ConversationVisible bool                   `json:"conversation_visible"`
	ScreenSharing       bool                   `json:"screen_sharing"`
	CanJoin             bool                   `json:"can_join"`
	CanLeave            bool                   `json:"can_leave"`
	Participants        []core.ParticipantDTO  `json:"participants"`
}

func NewStateResponse(st app.State) StateResponse {
	resp := StateResponse{
		SessionID:           st.SessionID,
		Status:              st.Status,
		Message:             st.Message,
		Tone:                st.Tone,
		ConversationURL:     st.ConversationURL,
		ConversationVisible: st.ConversationVisible,
		ScreenSharing:       st.ScreenSharing,
		Participants:        []core.ParticipantDTO{},
	}
	switch st.Status {
	case domain.StatusConnecting, domain.StatusJoining, domain.StatusConnected:
		resp.CanLeave = true
	default:
		resp.CanJoin = !st.ConversationVisible
		resp.CanLeave = st.ConversationVisible
	}
	for _, p := range st.Participants() {
		resp.Participants = append(resp.Participants, core.NewParticipantDTO(p))
	}
	return resp
}

func statusFor(err error) int {
	var derr *app.DeviceError
	switch {
	case errors.Is(err, app.ErrJoinInFlight), errors.Is(err, app.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &derr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	code := statusFor(err)
	log.Warn().
		Err(err).
		Str("module", "adapters.http").
		Str("ct", c.GetString(clientTokenKey)).
		Str("op", op).
		Int("status", code).
		Msg("call action failed")
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) join(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow(c.GetString(clientTokenKey)) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}
	if err := h.svc.Join(c.Request.Context()); err != nil {
		h.fail(c, "join", err)
		return
	}
	c.JSON(http.StatusAccepted, NewStateResponse(h.svc.State()))
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context()); err != nil {
		h.fail(c, "leave", err)
		return
	}
	c.JSON(http.StatusOK, NewStateResponse(h.svc.State()))
}

func (h *handlers) toggleScreenShare(c *gin.Context) {
	if err := h.svc.ToggleScreenShare(c.Request.Context()); err != nil {
		h.fail(c, "screenshare", err)
		return
	}
	c.JSON(http.StatusOK, NewStateResponse(h.svc.State()))
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, NewStateResponse(h.svc.State()))
}

func (h *handlers) listSinks(c *gin.Context) {
	if h.sinks == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, h.sinks.Snapshot())
}
