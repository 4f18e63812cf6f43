package app

import "github.com/dkeye/AvatarCall/internal/domain"

// refreshParticipants replaces the participant snapshot with the transport's
// registry and refreshes sinks.
func (c *Controller) refreshParticipants() {
	c.st.Local, c.st.Remotes = partition(c.transport.Participants())
	c.refreshSinks()
	c.publish()
}

func (c *Controller) refreshSinks() {
	present := make(map[domain.ParticipantID]bool, len(c.st.Remotes)+1)
	for _, p := range c.st.Participants() {
		present[p.ID] = true
		if c.provider != nil && len(c.sinks.Roles(p.ID)) == 0 {
			for role, s := range c.provider.SinksFor(p) {
				c.sinks.Register(p.ID, role, s)
			}
			c.provided[p.ID] = true
		}
		for role, h := range PlanAttachments(p, c.sinks.Roles(p.ID)) {
			s, ok := c.sinks.Get(p.ID, role)
			if !ok {
				continue
			}
			if h == nil {
				s.Detach()
			} else {
				s.Attach(h)
			}
		}
	}

	for _, pid := range c.sinks.Participants() {
		if present[pid] {
			continue
		}
		if c.provided[pid] {
			for _, s := range c.sinks.UnregisterParticipant(pid) {
				s.Detach()
			}
			delete(c.provided, pid)
			c.provider.Release(pid)
			continue
		}
		for _, s := range c.sinks.Sinks(pid) {
			s.Detach()
		}
	}
}

func (c *Controller) screenShare(m screenShareCmd) {
	start := m.start
	if m.toggle {
		start = !c.st.ScreenSharing
	}
	if !c.joined {
		c.logger().Error().Bool("start", start).Msg("call object not available")
		m.reply <- nil
		return
	}
	gen, ctx := c.gen, c.runCtx
	c.wg.Go(func() {
		var err error
		if start {
			err = c.transport.StartScreenShare(ctx)
		} else {
			err = c.transport.StopScreenShare(ctx)
		}
		c.post(screenShareResultMsg{gen: gen, start: start, err: err, reply: m.reply})
	})
}

func (c *Controller) onScreenShareResult(m screenShareResultMsg) {
	if m.err != nil {
		op := "stop"
		if m.start {
			op = "start"
		}
		derr := &DeviceError{Op: op, Err: m.err}
		c.logger().Error().Err(derr).Msg("screen share failed")
		m.reply <- derr
		return
	}
	if m.gen == c.gen && c.joined {
		c.st.ScreenSharing = m.start
		c.refreshParticipants()
	}
	m.reply <- nil
}
