package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/AvatarCall/internal/core"
	"github.com/dkeye/AvatarCall/internal/domain"
)

const testURL = domain.ConversationURL("https://x.daily.co/abc")

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

func participant(id domain.ParticipantID, name string, kinds ...domain.TrackKind) domain.Participant {
	p := domain.NewParticipant(id, name)
	for _, k := range kinds {
		p.Tracks[k] = domain.Track{Kind: k, State: domain.TrackPlayable, Handle: fakeHandle(string(id) + "/" + string(k))}
	}
	return p
}

type fakeTransport struct {
	events chan core.Event

	mu           sync.Mutex
	participants map[domain.ParticipantID]domain.Participant
	joinErr      error
	joinGate     chan struct{}
	ignoreCancel bool
	shareErr     error
	joinedURL    domain.ConversationURL

	joinCalls  atomic.Int32
	leaveCalls atomic.Int32
	startCalls atomic.Int32
	stopCalls  atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan core.Event, 16),
		participants: map[domain.ParticipantID]domain.Participant{
			domain.LocalParticipantID: participant(domain.LocalParticipantID, "me", domain.TrackVideo, domain.TrackAudio),
			"r1":                      participant("r1", "Charlie", domain.TrackVideo, domain.TrackAudio),
		},
	}
}

func (f *fakeTransport) Join(ctx context.Context, url domain.ConversationURL) error {
	f.joinCalls.Add(1)
	f.mu.Lock()
	gate, err, ignore := f.joinGate, f.joinErr, f.ignoreCancel
	f.joinedURL = url
	f.mu.Unlock()
	if gate != nil && ignore {
		<-gate
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) Leave(context.Context) error {
	f.leaveCalls.Add(1)
	return nil
}

func (f *fakeTransport) Participants() map[domain.ParticipantID]domain.Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.ParticipantID]domain.Participant, len(f.participants))
	for id, p := range f.participants {
		out[id] = p.Clone()
	}
	return out
}

func (f *fakeTransport) setParticipant(p domain.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[p.ID] = p
}

func (f *fakeTransport) removeParticipant(id domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants, id)
}

func (f *fakeTransport) StartScreenShare(context.Context) error {
	f.startCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shareErr
}

func (f *fakeTransport) StopScreenShare(context.Context) error {
	f.stopCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shareErr
}

func (f *fakeTransport) Events() <-chan core.Event { return f.events }

func (f *fakeTransport) emit(t core.EventType) { f.events <- core.Event{Type: t} }

type fakeProvisioner struct {
	url   domain.ConversationURL
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (p *fakeProvisioner) CreateCall(ctx context.Context) (domain.ConversationURL, error) {
	p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.url, p.err
}

type fakeSink struct {
	mu       sync.Mutex
	handle   domain.MediaHandle
	attaches int
}

func (s *fakeSink) Attach(h domain.MediaHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.attaches++
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = nil
}

func (s *fakeSink) HandleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.ID()
}

type fakeProvider struct {
	mu       sync.Mutex
	sinks    map[domain.ParticipantID]map[SinkRole]*fakeSink
	released []domain.ParticipantID
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sinks: make(map[domain.ParticipantID]map[SinkRole]*fakeSink)}
}

func (p *fakeProvider) SinksFor(part domain.Participant) map[SinkRole]core.Sink {
	p.mu.Lock()
	defer p.mu.Unlock()
	roles := []SinkRole{RoleCamera, RoleAudio}
	if part.IsLocal() {
		roles = []SinkRole{RoleCamera, RoleScreen}
	}
	out := make(map[SinkRole]core.Sink, len(roles))
	mine := make(map[SinkRole]*fakeSink, len(roles))
	for _, r := range roles {
		s := &fakeSink{}
		out[r] = s
		mine[r] = s
	}
	p.sinks[part.ID] = mine
	return out
}

func (p *fakeProvider) Release(pid domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, pid)
}

func (p *fakeProvider) sink(pid domain.ParticipantID, role SinkRole) *fakeSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinks[pid][role]
}

func (p *fakeProvider) releasedIDs() []domain.ParticipantID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ParticipantID(nil), p.released...)
}

func startController(t *testing.T, tr core.CallTransport, prov Provisioner, opts ...Option) *Controller {
	t.Helper()
	ctl := NewController(tr, prov, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ctl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("controller did not stop")
		}
	})
	return ctl
}

func waitStatus(t *testing.T, ctl *Controller, want domain.CallStatus) State {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctl.State().Status == want
	}, 2*time.Second, 5*time.Millisecond, "status never became %s, last %s", want, ctl.State().Status)
	return ctl.State()
}

func joinConnected(t *testing.T, ctl *Controller) State {
	t.Helper()
	require.NoError(t, ctl.Join(context.Background()))
	return waitStatus(t, ctl, domain.StatusConnected)
}
