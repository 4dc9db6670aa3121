package service

import (
	"context"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callerHarness struct {
	*harness
	invite Invitation
	caller *Caller
	states chan CallerState
	done   chan CallerState
}

func newCallerHarness(t *testing.T, setup func(h *harness, inv *Invitation)) *callerHarness {
	t.Helper()
	h := newHarness(t)
	meeting := h.meeting(t)
	inv, err := Dial(context.Background(), h.store, meeting.ID, domain.NewUserID())
	require.NoError(t, err)
	if setup != nil {
		setup(h, &inv)
	}

	c := &callerHarness{
		harness: h,
		invite:  inv,
		states:  make(chan CallerState, 8),
		done:    make(chan CallerState, 1),
	}
	c.caller = NewCaller(inv, CallerDeps{
		Store:    h.store,
		Gateway:  h.gateway,
		Registry: h.registry,
		Loop:     h.loop,
		Clock:    h.clock,
	}, CallerConfig{})
	c.caller.OnState(func(s CallerState) { c.states <- s })
	c.caller.OnDone(func(s CallerState) { c.done <- s })

	require.NoError(t, h.run(t, func() error { return c.caller.Start(context.Background()) }))
	return c
}

func (c *callerHarness) deliver(ev domain.CallStatusEvent) {
	payload := `{"participant_id":"` + ev.ParticipantID.String() +
		`","user_id":"` + ev.UserID.String() +
		`","status":"` + string(ev.Status) + `"}`
	c.transport.broadcast(domain.StatusChannel(c.invite.MeetingID), domain.EventCallStatusUpdate, payload)
}

func (c *callerHarness) answer(status domain.ParticipantStatus) {
	c.deliver(domain.CallStatusEvent{ParticipantID: c.invite.ParticipantID, UserID: c.invite.UserID, Status: status})
}

func (c *callerHarness) waitState(t *testing.T, want CallerState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.caller.State() == want }, waitFor, tick)
}

func (c *callerHarness) waitDone(t *testing.T) CallerState {
	t.Helper()
	select {
	case s := <-c.done:
		return s
	case <-time.After(waitFor):
		t.Fatal("caller did not finish")
		return ""
	}
}

// assertHeld checks the caller reached a terminal state but has not cleaned up yet.
func (c *callerHarness) assertHeld(t *testing.T) {
	t.Helper()
	c.sync(t)
	assert.Empty(t, c.done)
}

func TestCallerAcceptedJoinsAfterSettle(t *testing.T) {
	c := newCallerHarness(t, nil)

	c.answer(domain.StatusAccepted)
	c.waitState(t, CallerAccepted)
	c.assertHeld(t)
	assert.False(t, c.registry.InMeeting())

	c.clock.Add(DefaultSettleDelay)

	assert.Equal(t, CallerAccepted, c.waitDone(t))
	require.Eventually(t, func() bool {
		m, in := c.registry.Current()
		return in && m == c.invite.MeetingID
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		return len(c.transport.unsubscribed()) == 1
	}, waitFor, tick)
}

func TestCallerDeclinedHoldsThenFinishes(t *testing.T) {
	c := newCallerHarness(t, nil)

	c.answer(domain.StatusDeclined)
	c.waitState(t, CallerDeclined)
	c.assertHeld(t)

	c.clock.Add(DefaultDisplayDelay)

	assert.Equal(t, CallerDeclined, c.waitDone(t))
	assert.False(t, c.registry.InMeeting())
}

func TestCallerTimesOut(t *testing.T) {
	c := newCallerHarness(t, nil)

	c.clock.Add(DefaultCallTimeout)
	c.waitState(t, CallerTimeout)
	c.assertHeld(t)

	c.clock.Add(DefaultDisplayDelay)
	assert.Equal(t, CallerTimeout, c.waitDone(t))
}

func TestCallerMissedIsTimeout(t *testing.T) {
	c := newCallerHarness(t, nil)

	c.answer(domain.StatusMissed)
	c.waitState(t, CallerTimeout)

	c.clock.Add(DefaultDisplayDelay)
	assert.Equal(t, CallerTimeout, c.waitDone(t))
}

func TestCallerCancelCommitsDeclined(t *testing.T) {
	c := newCallerHarness(t, nil)

	require.NoError(t, c.caller.Cancel())

	assert.Equal(t, CallerDeclined, c.waitDone(t))
	require.Eventually(t, func() bool {
		p, err := c.store.GetParticipant(context.Background(), c.invite.MeetingID, c.invite.ParticipantID)
		return err == nil && p.Status == domain.StatusDeclined
	}, waitFor, tick)

	require.NoError(t, c.caller.Cancel())
	c.sync(t)
	assert.Equal(t, []domain.ParticipantStatus{domain.StatusDeclined}, c.store.writes())
}

func TestCallerMatchesByUser(t *testing.T) {
	c := newCallerHarness(t, func(_ *harness, inv *Invitation) {
		inv.ParticipantID = domain.ParticipantID{}
	})

	c.deliver(domain.CallStatusEvent{ParticipantID: domain.NewParticipantID(), UserID: domain.NewUserID(), Status: domain.StatusAccepted})
	c.sync(t)
	c.sync(t)
	assert.Equal(t, CallerCalling, c.caller.State())

	c.deliver(domain.CallStatusEvent{ParticipantID: domain.NewParticipantID(), UserID: c.invite.UserID, Status: domain.StatusDeclined})
	c.waitState(t, CallerDeclined)
}

func TestCallerIgnoresUpdatesAfterResolution(t *testing.T) {
	c := newCallerHarness(t, nil)

	c.answer(domain.StatusDeclined)
	c.waitState(t, CallerDeclined)
	c.answer(domain.StatusAccepted)
	c.sync(t)
	c.sync(t)

	assert.Equal(t, CallerDeclined, c.caller.State())
	assert.Len(t, c.states, 1)

	c.clock.Add(DefaultCallTimeout)
	c.sync(t)
	assert.Equal(t, CallerDeclined, c.caller.State())
}

func TestCallerReconcilesAnswerCommittedBeforeSubscribe(t *testing.T) {
	c := newCallerHarness(t, func(h *harness, inv *Invitation) {
		_, err := h.store.UpdateStatus(context.Background(), inv.MeetingID, inv.ParticipantID, domain.StatusDeclined)
		require.NoError(t, err)
	})

	c.waitState(t, CallerDeclined)
}
