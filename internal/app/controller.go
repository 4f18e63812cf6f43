package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

const DefaultLeaveTimeout = 5 * time.Second

// Provisioner creates the remote conversation a call joins.
type Provisioner interface {
	CreateCall(ctx context.Context) (domain.ConversationURL, error)
}

// SinkProvider creates sinks for participants that have none registered,
// the way a UI renders a tile for every member.
type SinkProvider interface {
	SinksFor(p domain.Participant) map[SinkRole]core.Sink
	Release(pid domain.ParticipantID)
}

type Option func(*Controller)

func WithSinkProvider(p SinkProvider) Option {
	return func(c *Controller) { c.provider = p }
}

func WithLeaveTimeout(d time.Duration) Option {
	return func(c *Controller) { c.leaveTimeout = d }
}

// Controller drives one call session over an injected transport.
// All transitions happen on the goroutine running Run; public methods post
// commands to it.
type Controller struct {
	id           string
	transport    core.CallTransport
	prov         Provisioner
	sinks        *SinkRegistry
	provider     SinkProvider
	leaveTimeout time.Duration

	inbox    chan any
	quit     chan struct{}
	quitOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       conc.WaitGroup

	// Owned by the Run goroutine.
	runCtx     context.Context
	cancelRun  context.CancelFunc
	st         State
	gen        uint64
	joined     bool
	joinCancel context.CancelFunc
	provided   map[domain.ParticipantID]bool

	mu      sync.RWMutex
	view    State
	subs    map[int]chan State
	nextSub int
}

func NewController(t core.CallTransport, p Provisioner, opts ...Option) *Controller {
	c := &Controller{
		id:           uuid.NewString(),
		transport:    t,
		prov:         p,
		sinks:        NewSinkRegistry(),
		leaveTimeout: DefaultLeaveTimeout,
		inbox:        make(chan any),
		quit:         make(chan struct{}),
		stopping:     make(chan struct{}),
		done:         make(chan struct{}),
		st:           idleState(),
		provided:     make(map[domain.ParticipantID]bool),
		view:         idleState(),
		subs:         make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type (
	joinCmd struct {
		reply chan error
	}
	leaveCmd struct {
		reply chan error
	}
	screenShareCmd struct {
		start  bool
		toggle bool
		reply  chan error
	}
	attachSinkCmd struct {
		pid   domain.ParticipantID
		role  SinkRole
		sink  core.Sink
		reply chan error
	}
	detachSinkCmd struct {
		pid   domain.ParticipantID
		role  SinkRole
		reply chan error
	}
	provisionedMsg struct {
		gen uint64
		url domain.ConversationURL
		err error
	}
	joinedMsg struct {
		gen uint64
		url domain.ConversationURL
		err error
	}
	screenShareResultMsg struct {
		gen   uint64
		start bool
		err   error
		reply chan error
	}
)

func (c *Controller) logger() *zerolog.Logger {
	l := log.With().Str("module", "app.controller").Str("controller", c.id).Str("session", c.st.SessionID).Logger()
	return &l
}

// Run processes commands and transport events until ctx is done or Close is
// called, then releases the transport. It returns nil on orderly shutdown.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.runCtx, c.cancelRun = context.WithCancel(ctx)
	events := c.transport.Events()
	c.logger().Info().Msg("controller started")

	for {
		select {
		case <-c.runCtx.Done():
			c.shutdown()
			return nil
		case <-c.quit:
			c.shutdown()
			return nil
		case m := <-c.inbox:
			c.handle(m)
		case ev, ok := <-events:
			if !ok {
				c.logger().Warn().Msg("transport event stream closed")
				events = nil
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// Close stops Run and waits for the teardown to finish.
func (c *Controller) Close(ctx context.Context) error {
	c.quitOnce.Do(func() { close(c.quit) })
	if !c.running.Load() {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join provisions a conversation and joins it. It returns once the request
// is accepted; progress is reported through State and Subscribe.
func (c *Controller) Join(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return joinCmd{reply: reply} })
}

// Leave ends the session. Leaving while provisioning is in flight is
// reconciled once provisioning completes.
func (c *Controller) Leave(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return leaveCmd{reply: reply} })
}

func (c *Controller) StartScreenShare(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return screenShareCmd{start: true, reply: reply} })
}

func (c *Controller) StopScreenShare(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return screenShareCmd{start: false, reply: reply} })
}

func (c *Controller) ToggleScreenShare(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) any { return screenShareCmd{toggle: true, reply: reply} })
}

// AttachSink registers a sink for a participant role and applies the current
// attachment plan to it.
func (c *Controller) AttachSink(ctx context.Context, pid domain.ParticipantID, role SinkRole, s core.Sink) error {
	return c.request(ctx, func(reply chan error) any {
		return attachSinkCmd{pid: pid, role: role, sink: s, reply: reply}
	})
}

// DetachSink detaches and unregisters a sink.
func (c *Controller) DetachSink(ctx context.Context, pid domain.ParticipantID, role SinkRole) error {
	return c.request(ctx, func(reply chan error) any {
		return detachSinkCmd{pid: pid, role: role, reply: reply}
	})
}

// State returns the latest published state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.Clone()
}

// Subscribe returns a channel receiving the latest state after every change.
// Slow readers only see the most recent state. The channel is closed by the
// returned cancel func or on shutdown.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.view.Clone()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// Sinks exposes the sink registry for read-only inspection.
func (c *Controller) Sinks() *SinkRegistry { return c.sinks }

func (c *Controller) request(ctx context.Context, build func(chan error) any) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- build(reply):
	case <-c.stopping:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers a background result to the loop unless it is shutting down.
func (c *Controller) post(m any) {
	select {
	case c.inbox <- m:
	case <-c.stopping:
	}
}

func (c *Controller) handle(m any) {
	switch m := m.(type) {
	case joinCmd:
		m.reply <- c.startJoin()
	case leaveCmd:
		c.leave()
		m.reply <- nil
	case screenShareCmd:
		c.screenShare(m)
	case attachSinkCmd:
		c.sinks.Register(m.pid, m.role, m.sink)
		c.refreshSinks()
		m.reply <- nil
	case detachSinkCmd:
		if s, ok := c.sinks.Unregister(m.pid, m.role); ok {
			s.Detach()
		}
		m.reply <- nil
	case provisionedMsg:
		c.onProvisioned(m)
	case joinedMsg:
		c.onJoined(m)
	case screenShareResultMsg:
		c.onScreenShareResult(m)
	default:
		c.logger().Warn().Msgf("unknown message %T", m)
	}
}

func (c *Controller) publish() {
	v := c.st.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (c *Controller) shutdown() {
	logger := c.logger()
	close(c.stopping)

	pending := c.joinCancel != nil
	if c.joinCancel != nil {
		c.joinCancel()
		c.joinCancel = nil
	}
	c.cancelRun()
	if rec := c.wg.WaitAndRecover(); rec != nil {
		logger.Error().Err(rec.AsError()).Msg("background task panicked")
	}
	if c.joined || pending {
		c.joined = false
		c.safeLeave(logger)
	}

	if c.st.Status != domain.StatusIdle {
		c.resetDisconnected()
	}
	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
	logger.Info().Msg("controller stopped")
}
