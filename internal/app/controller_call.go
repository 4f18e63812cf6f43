package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
	"github.com/dkeye/AvatarCall/internal/provision"
)

func (c *Controller) startJoin() error {
	switch {
	case c.st.Status == domain.StatusConnecting || c.st.Status == domain.StatusJoining:
		c.logger().Warn().Msg("join ignored, already in flight")
		return ErrJoinInFlight
	case c.joined:
		return ErrAlreadyJoined
	}

	c.gen++
	gen := c.gen
	c.st = idleState()
	c.st.SessionID = uuid.NewString()
	c.st.Status = domain.StatusConnecting
	c.st.Message = MsgCreatingCall
	c.st.Tone = domain.ToneNeutral
	c.refreshSinks()
	c.publish()
	c.logger().Info().Uint64("gen", gen).Msg("creating call")

	ctx := c.runCtx
	c.wg.Go(func() {
		url, err := c.prov.CreateCall(ctx)
		c.post(provisionedMsg{gen: gen, url: url, err: err})
	})
	return nil
}

func (c *Controller) onProvisioned(m provisionedMsg) {
	logger := c.logger()
	if m.gen != c.gen {
		logger.Info().Uint64("gen", m.gen).Msg("provisioning finished after leave, ignoring")
		return
	}
	if m.err != nil {
		logger.Error().Err(m.err).Msg("failed to create call")
		msg := MsgCreateFailed
		if errors.Is(m.err, provision.ErrNoConversationURL) {
			msg = MsgNoConversationURL
		}
		c.fail(msg)
		return
	}
	if m.url == "" {
		logger.Error().Msg("provisioning returned no conversation url")
		c.fail(MsgNoConversationURL)
		return
	}

	c.st.Status = domain.StatusJoining
	c.st.ConversationURL = m.url
	c.st.Message = MsgJoining
	c.st.Tone = domain.ToneNeutral
	c.publish()
	logger.Info().Str("url", string(m.url)).Msg("joining meeting")

	joinCtx, cancel := context.WithCancel(c.runCtx)
	c.joinCancel = cancel
	gen, url := c.gen, m.url
	c.wg.Go(func() {
		defer cancel()
		err := c.transport.Join(joinCtx, url)
		c.post(joinedMsg{gen: gen, url: url, err: err})
	})
}

func (c *Controller) onJoined(m joinedMsg) {
	logger := c.logger()
	if m.gen != c.gen {
		if m.err == nil {
			logger.Info().Uint64("gen", m.gen).Msg("join completed after leave, leaving")
			c.leaveInBackground()
		}
		return
	}
	c.joinCancel = nil
	if m.err != nil {
		jerr := &JoinError{URL: m.url, Err: m.err}
		logger.Error().Err(jerr).Msg("failed to join conversation")
		c.joined = false
		c.st.Local = nil
		c.st.Remotes = make(map[domain.ParticipantID]domain.Participant)
		c.refreshSinks()
		c.fail(MsgConnectFailed)
		return
	}
	logger.Info().Msg("joined conversation successfully")
	c.markConnected()
}

func (c *Controller) markConnected() {
	c.joined = true
	c.st.Status = domain.StatusConnected
	c.st.Message = MsgConnected
	c.st.Tone = domain.ToneSuccess
	c.st.ConversationVisible = true
	c.refreshParticipants()
}

func (c *Controller) fail(msg string) {
	c.st.Status = domain.StatusFailed
	c.st.Message = msg
	c.st.Tone = domain.ToneFailed
	c.publish()
}

func (c *Controller) leave() {
	if c.st.Status == domain.StatusIdle {
		return
	}
	c.gen++
	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}
	if c.joined {
		c.joined = false
		c.leaveInBackground()
	}
	c.logger().Info().Msg("left conversation")
	c.resetDisconnected()
}

func (c *Controller) resetDisconnected() {
	sid := c.st.SessionID
	c.st = idleState()
	c.st.SessionID = sid
	c.st.Status = domain.StatusDisconnected
	c.st.Message = MsgDisconnected
	c.st.Tone = domain.ToneNeutral
	c.refreshSinks()
	c.publish()
}

func (c *Controller) leaveInBackground() {
	logger := c.logger()
	c.wg.Go(func() { c.safeLeave(logger) })
}

// safeLeave never propagates failures: leaving is best effort.
func (c *Controller) safeLeave(logger *zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("cleanup error")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.leaveTimeout)
	defer cancel()
	if err := c.transport.Leave(ctx); err != nil {
		logger.Error().Err(err).Msg("cleanup error")
	}
}

func (c *Controller) sessionActive() bool {
	return c.joined || c.joinCancel != nil
}

func (c *Controller) handleEvent(ev core.Event) {
	logger := c.logger()
	if !c.sessionActive() {
		logger.Debug().Str("event", string(ev.Type)).Msg("event without active call, ignoring")
		return
	}
	logger.Debug().Str("event", string(ev.Type)).Str("participant", string(ev.Participant)).Msg("transport event")

	switch ev.Type {
	case core.EventJoinedMeeting:
		c.markConnected()
		return
	case core.EventLeftMeeting:
		c.gen++
		if c.joinCancel != nil {
			c.joinCancel()
			c.joinCancel = nil
		}
		c.joined = false
		c.resetDisconnected()
		return
	case core.EventError:
		logger.Error().Err(&TransportError{Err: ev.Err}).Msg("call error")
		c.st.Status = domain.StatusFailed
		c.st.Message = MsgConnectionError
		c.st.Tone = domain.ToneFailed
		c.publish()
		return
	case core.EventStartedScreenShare:
		logger.Info().Msg("screen share started")
		c.st.ScreenSharing = true
	case core.EventStoppedScreenShare:
		logger.Info().Msg("screen share stopped")
		c.st.ScreenSharing = false
	}
	if ev.Type.SyncsParticipants() {
		c.refreshParticipants()
	}
}
