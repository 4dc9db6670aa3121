package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type subscribeResult struct {
	status domain.SubscribeStatus
	err    error
}

type subscribeCall struct {
	channel string
	at      time.Time
}

// fakeTransport answers subscribes from a per-channel script, OK by default.
type fakeTransport struct {
	clock   clock.Clock
	inbound chan port.Inbound

	mu           sync.Mutex
	tokens       []string
	subscribes   []subscribeCall
	unsubscribes []string
	script       map[string][]subscribeResult
	authErr      error
	closed       bool
}

func newFakeTransport(clk clock.Clock) *fakeTransport {
	return &fakeTransport{
		clock:   clk,
		inbound: make(chan port.Inbound, 16),
		script:  make(map[string][]subscribeResult),
	}
}

func (f *fakeTransport) queue(channel string, results ...subscribeResult) {
	f.mu.Lock()
	f.script[channel] = append(f.script[channel], results...)
	f.mu.Unlock()
}

func (f *fakeTransport) Authenticate(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return f.authErr
}

func (f *fakeTransport) Subscribe(_ context.Context, channel string, private bool) (domain.SubscribeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !private {
		return domain.SubscribeChannelError, errors.New("public subscribe")
	}
	f.subscribes = append(f.subscribes, subscribeCall{channel: channel, at: f.clock.Now()})
	if q := f.script[channel]; len(q) > 0 {
		r := q[0]
		f.script[channel] = q[1:]
		return r.status, r.err
	}
	return domain.SubscribeOK, nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, channel string) error {
	f.mu.Lock()
	f.unsubscribes = append(f.unsubscribes, channel)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Inbound() <-chan port.Inbound { return f.inbound }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeTransport) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeTransport) subscribeCalls() []subscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeCall(nil), f.subscribes...)
}

func (f *fakeTransport) unsubscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribes...)
}

func (f *fakeTransport) broadcast(channel, event, payload string) {
	f.inbound <- port.Inbound{Kind: port.InboundBroadcast, Channel: channel, Event: event, Payload: []byte(payload)}
}

// flakyStore wraps a real store and fails chosen writes.
type flakyStore struct {
	port.MeetingStore

	mu            sync.Mutex
	markMissedErr error
	updateErr     error
	updates       []domain.ParticipantStatus
	// invited, when set, is returned by ListInvited instead of the real rows.
	invited []domain.Participant
}

func (s *flakyStore) ListInvited(ctx context.Context, user domain.UserID) ([]domain.Participant, error) {
	s.mu.Lock()
	rows := s.invited
	s.mu.Unlock()
	if rows != nil {
		return rows, nil
	}
	return s.MeetingStore.ListInvited(ctx, user)
}

func (s *flakyStore) snapshotInvited(rows ...domain.Participant) {
	s.mu.Lock()
	s.invited = rows
	s.mu.Unlock()
}

func (s *flakyStore) UpdateStatus(ctx context.Context, m domain.MeetingID, p domain.ParticipantID, st domain.ParticipantStatus) (domain.Participant, error) {
	s.mu.Lock()
	s.updates = append(s.updates, st)
	err := s.updateErr
	s.mu.Unlock()
	if err != nil {
		return domain.Participant{}, err
	}
	return s.MeetingStore.UpdateStatus(ctx, m, p, st)
}

func (s *flakyStore) MarkMissed(ctx context.Context, m domain.MeetingID, p domain.ParticipantID) (domain.Participant, error) {
	s.mu.Lock()
	s.updates = append(s.updates, domain.StatusMissed)
	err := s.markMissedErr
	s.mu.Unlock()
	if err != nil {
		return domain.Participant{}, err
	}
	return s.MeetingStore.MarkMissed(ctx, m, p)
}

func (s *flakyStore) writes() []domain.ParticipantStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ParticipantStatus(nil), s.updates...)
}

type fakeRinger struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *fakeRinger) Start() {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *fakeRinger) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *fakeRinger) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type fakeConference struct {
	mu     sync.Mutex
	joins  []domain.MeetingID
	leaves []domain.MeetingID
	err    error
}

func (c *fakeConference) Join(_ context.Context, m domain.MeetingID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, m)
	return c.err
}

func (c *fakeConference) Leave(_ context.Context, m domain.MeetingID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves = append(c.leaves, m)
	return nil
}

func (c *fakeConference) joined() []domain.MeetingID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MeetingID(nil), c.joins...)
}

func (c *fakeConference) left() []domain.MeetingID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MeetingID(nil), c.leaves...)
}

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(cancel)
	return l
}

// harness wires a gateway over a fake transport with a mock clock. Both
// delays are zero-cost once the clock has been advanced past them.
type harness struct {
	clock     *clock.Mock
	loop      *Loop
	transport *fakeTransport
	gateway   *Gateway
	store     *flakyStore
	registry  *Registry
	conf      *fakeConference
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	loop := startLoop(t)
	tr := newFakeTransport(clk)
	gw := NewGateway(tr, NewConnection(port.StaticToken("tok")), loop, clk, GatewayConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = gw.Run(ctx) }()
	t.Cleanup(cancel)

	conf := &fakeConference{}
	return &harness{
		clock:     clk,
		loop:      loop,
		transport: tr,
		gateway:   gw,
		store:     &flakyStore{MeetingStore: memory.NewStore(clk, nil)},
		registry:  NewRegistry(conf),
		conf:      conf,
	}
}

// run executes fn in the background while advancing the mock clock until fn returns.
func (h *harness) run(t *testing.T, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	deadline := time.After(waitFor)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("operation did not finish")
			return nil
		default:
			h.clock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

// sync waits until every task posted so far has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.loop.Do(ctx, func() {}))
}

func (h *harness) meeting(t *testing.T) domain.Meeting {
	t.Helper()
	m, err := h.store.CreateMeeting(context.Background(), domain.Meeting{
		OrganizationID: domain.NewOrganizationID(),
		HostID:         domain.NewUserID(),
		Title:          "Sync",
	})
	require.NoError(t, err)
	return m
}
