package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calleeHarness struct {
	*harness
	user    domain.UserID
	meeting domain.Meeting
	ringer  *fakeRinger
	callee  *Callee
	errs    chan error
}

// newCalleeHarness builds a callee for a fresh user. setup runs before Start so
// it can seed rows for bootstrap reconciliation.
func newCalleeHarness(t *testing.T, setup func(c *calleeHarness)) *calleeHarness {
	t.Helper()
	h := newHarness(t)
	c := &calleeHarness{
		harness: h,
		user:    domain.NewUserID(),
		ringer:  &fakeRinger{},
		errs:    make(chan error, 8),
	}
	c.meeting = h.meeting(t)
	require.NoError(t, h.store.AddMember(context.Background(), domain.Member{
		OrganizationID: c.meeting.OrganizationID,
		UserID:         c.meeting.HostID,
		DisplayName:    "Ada",
	}))
	if setup != nil {
		setup(c)
	}

	c.callee = NewCallee(c.user, CalleeDeps{
		Store:    h.store,
		Ringer:   c.ringer,
		Registry: h.registry,
		Gateway:  h.gateway,
		Loop:     h.loop,
		Clock:    h.clock,
	}, CalleeConfig{})
	c.callee.OnError(func(err error) { c.errs <- err })

	require.NoError(t, h.run(t, func() error { return c.callee.Start(context.Background()) }))
	return c
}

func (c *calleeHarness) invite(t *testing.T, meeting domain.MeetingID) domain.Participant {
	t.Helper()
	p, err := c.store.Invite(context.Background(), meeting, c.user)
	require.NoError(t, err)
	return p
}

func (c *calleeHarness) deliver(t *testing.T, inv domain.CallInvitationEvent) {
	t.Helper()
	c.transport.broadcast(domain.InvitationChannel(c.user), domain.EventCallInvitation, invitationPayload(t, inv))
}

func (c *calleeHarness) ringFor(t *testing.T, p domain.Participant) {
	t.Helper()
	c.deliver(t, domain.InvitationEventOf(p))
	require.Eventually(t, func() bool {
		v := c.callee.View()
		return v.Ringing() && v.Invitation.ParticipantID == p.ID
	}, waitFor, tick)
}

func (c *calleeHarness) status(t *testing.T, p domain.Participant) domain.ParticipantStatus {
	t.Helper()
	got, err := c.store.GetParticipant(context.Background(), p.MeetingID, p.ID)
	require.NoError(t, err)
	return got.Status
}

func TestCalleeRingsWithCallerDetails(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)

	c.ringFor(t, p)

	require.Eventually(t, func() bool { return c.callee.View().CallerName == "Ada" }, waitFor, tick)
	v := c.callee.View()
	assert.Equal(t, "Sync", v.MeetingTitle)
	assert.Equal(t, PresentationFullscreen, v.Offer.Presentation)
	assert.Equal(t, []Action{ActionAccept, ActionDecline}, v.Offer.Actions)
	starts, stops := c.ringer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
}

func TestCalleeIgnoresRedelivery(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)

	c.ringFor(t, p)
	c.deliver(t, domain.InvitationEventOf(p))
	require.NoError(t, c.callee.Reconcile(context.Background()))
	c.sync(t)
	c.sync(t)

	starts, _ := c.ringer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, c.callee.Processed().Len())
}

func TestCalleeBootstrapRingsExistingInvitation(t *testing.T) {
	var p domain.Participant
	c := newCalleeHarness(t, func(c *calleeHarness) {
		p = c.invite(t, c.meeting.ID)
	})

	require.Eventually(t, func() bool {
		v := c.callee.View()
		return v.Ringing() && v.Invitation.ParticipantID == p.ID
	}, waitFor, tick)

	c.deliver(t, domain.InvitationEventOf(p))
	c.sync(t)
	starts, _ := c.ringer.counts()
	assert.Equal(t, 1, starts)
}

func TestCalleeIgnoresOtherUsers(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p, err := c.store.Invite(context.Background(), c.meeting.ID, domain.NewUserID())
	require.NoError(t, err)

	c.deliver(t, domain.InvitationEventOf(p))
	c.sync(t)
	c.sync(t)

	assert.Equal(t, CalleeIdle, c.callee.View().State)
	starts, _ := c.ringer.counts()
	assert.Zero(t, starts)
}

func TestCalleeTimeoutMarksMissed(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	c.clock.Add(DefaultRingTimeout)

	require.Eventually(t, func() bool { return c.callee.View().State == CalleeMissed }, waitFor, tick)
	require.Eventually(t, func() bool { return c.status(t, p) == domain.StatusMissed }, waitFor, tick)
	starts, stops := c.ringer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestCalleeMissedFallsBackToDeclined(t *testing.T) {
	c := newCalleeHarness(t, nil)
	c.store.markMissedErr = domain.ErrUnavailable
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	c.clock.Add(DefaultRingTimeout)

	require.Eventually(t, func() bool { return c.status(t, p) == domain.StatusDeclined }, waitFor, tick)
	assert.Equal(t, []domain.ParticipantStatus{domain.StatusMissed, domain.StatusDeclined}, c.store.writes())
	assert.Equal(t, CalleeMissed, c.callee.View().State)
}

func TestCalleeMissedAfterRemoteAnswerIsReported(t *testing.T) {
	c := newCalleeHarness(t, nil)
	c.store.markMissedErr = fmt.Errorf("mark missed: %w", domain.ErrTerminalStatus)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	c.clock.Add(DefaultRingTimeout)

	err := nextError(t, c.errs)
	var cerr *domain.StoreCommitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, p.ID, cerr.ParticipantID)
	assert.Equal(t, domain.StatusMissed, cerr.Status)
	assert.Equal(t, []domain.ParticipantStatus{domain.StatusMissed}, c.store.writes())
}

func TestCalleeAcceptCommitsAndJoins(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	require.NoError(t, c.callee.Respond(context.Background(), ActionAccept))
	assert.Equal(t, CalleeAccepted, c.callee.View().State)

	require.Eventually(t, func() bool {
		m, in := c.registry.Current()
		return in && m == c.meeting.ID
	}, waitFor, tick)
	assert.Equal(t, domain.StatusAccepted, c.status(t, p))
	assert.Equal(t, []domain.MeetingID{c.meeting.ID}, c.conf.joined())

	_, stops := c.ringer.counts()
	assert.Equal(t, 1, stops)
	assert.ErrorIs(t, c.callee.Respond(context.Background(), ActionDecline), ErrNoInvitation)
}

func TestCalleeDeclineCommits(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	require.NoError(t, c.callee.Decline())

	require.Eventually(t, func() bool { return c.status(t, p) == domain.StatusDeclined }, waitFor, tick)
	assert.Equal(t, CalleeDeclined, c.callee.View().State)
	assert.False(t, c.registry.InMeeting())
}

func TestCalleeCommitFailureIsReported(t *testing.T) {
	c := newCalleeHarness(t, nil)
	c.store.updateErr = domain.ErrUnavailable
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	require.NoError(t, c.callee.Respond(context.Background(), ActionDecline))

	err := nextError(t, c.errs)
	var cerr *domain.StoreCommitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, domain.StatusDeclined, cerr.Status)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, CalleeDeclined, c.callee.View().State)
}

func TestCalleeOfferWhileInAnotherMeeting(t *testing.T) {
	c := newCalleeHarness(t, nil)
	other := domain.NewMeetingID()
	c.registry.Enter(other)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	v := c.callee.View()
	assert.Equal(t, PresentationToast, v.Offer.Presentation)
	assert.Equal(t, []Action{ActionDecline, ActionLeaveAndJoin}, v.Offer.Actions)

	assert.ErrorIs(t, c.callee.Respond(context.Background(), ActionAccept), ErrActionNotOffered)
	require.NoError(t, c.callee.Respond(context.Background(), ActionLeaveAndJoin))

	require.Eventually(t, func() bool {
		m, _ := c.registry.Current()
		return m == c.meeting.ID
	}, waitFor, tick)
	assert.Equal(t, []domain.MeetingID{other}, c.conf.left())
	assert.Equal(t, domain.StatusAccepted, c.status(t, p))
}

func TestCalleeOfferFollowsRegistry(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)
	require.Equal(t, PresentationFullscreen, c.callee.View().Offer.Presentation)

	c.registry.Enter(c.meeting.ID)

	require.Eventually(t, func() bool {
		return c.callee.View().Offer.Presentation == PresentationToast
	}, waitFor, tick)
	assert.Equal(t, []Action{ActionAccept, ActionDecline}, c.callee.View().Offer.Actions)
}

func TestCalleeDefersSecondInvitation(t *testing.T) {
	c := newCalleeHarness(t, nil)
	first := c.invite(t, c.meeting.ID)
	second := c.invite(t, c.harness.meeting(t).ID)
	c.ringFor(t, first)

	c.deliver(t, domain.InvitationEventOf(second))
	c.sync(t)
	c.sync(t)
	assert.Equal(t, first.ID, c.callee.View().Invitation.ParticipantID)

	require.NoError(t, c.callee.Decline())

	require.Eventually(t, func() bool {
		v := c.callee.View()
		return v.Ringing() && v.Invitation.ParticipantID == second.ID
	}, waitFor, tick)
	starts, stops := c.ringer.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestCalleeStopsRingingWhenResolvedElsewhere(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	answered := domain.InvitationEventOf(p)
	answered.Status = domain.StatusAccepted
	c.deliver(t, answered)

	require.Eventually(t, func() bool { return c.callee.View().State == CalleeAccepted }, waitFor, tick)
	_, stops := c.ringer.counts()
	assert.Equal(t, 1, stops)
	assert.Empty(t, c.store.writes())
	assert.False(t, c.registry.InMeeting())

	c.clock.Add(DefaultRingTimeout)
	c.sync(t)
	assert.Equal(t, CalleeAccepted, c.callee.View().State)
	assert.Empty(t, c.store.writes())
}

func TestCalleeRespondWithoutInvitation(t *testing.T) {
	c := newCalleeHarness(t, nil)
	assert.ErrorIs(t, c.callee.Respond(context.Background(), ActionAccept), ErrNoInvitation)
}

func TestCalleeDoesNotRingCancelledInvitation(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	_, err := c.store.MeetingStore.UpdateStatus(context.Background(), p.MeetingID, p.ID, domain.StatusDeclined)
	require.NoError(t, err)

	cancelled := domain.InvitationEventOf(p)
	cancelled.Status = domain.StatusDeclined
	c.deliver(t, cancelled)
	require.Eventually(t, func() bool { return c.callee.Processed().Seen(p.ID) }, waitFor, tick)

	// A reconciliation read from before the cancel still lists p as invited.
	c.store.snapshotInvited(p)
	require.NoError(t, c.callee.Reconcile(context.Background()))
	c.sync(t)
	c.deliver(t, domain.InvitationEventOf(p))
	c.sync(t)
	c.sync(t)

	assert.Equal(t, CalleeIdle, c.callee.View().State)
	starts, _ := c.ringer.counts()
	assert.Zero(t, starts)

	c.clock.Add(DefaultRingTimeout)
	c.sync(t)
	assert.Empty(t, c.store.writes())
	assert.Equal(t, domain.StatusDeclined, c.status(t, p))
}

func TestCalleeDeclineBeforeTimerCommitsOnce(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	require.NoError(t, c.callee.Decline())
	require.Eventually(t, func() bool { return c.status(t, p) == domain.StatusDeclined }, waitFor, tick)

	c.clock.Add(DefaultRingTimeout)
	c.sync(t)
	c.sync(t)

	assert.Equal(t, []domain.ParticipantStatus{domain.StatusDeclined}, c.store.writes())
	assert.Equal(t, CalleeDeclined, c.callee.View().State)
	_, stops := c.ringer.counts()
	assert.Equal(t, 1, stops)
}

func TestCalleeTimerBeforeDeclineCommitsOnce(t *testing.T) {
	c := newCalleeHarness(t, nil)
	p := c.invite(t, c.meeting.ID)
	c.ringFor(t, p)

	c.clock.Add(DefaultRingTimeout)
	require.Eventually(t, func() bool { return c.status(t, p) == domain.StatusMissed }, waitFor, tick)

	require.NoError(t, c.callee.Decline())
	c.sync(t)

	assert.Equal(t, []domain.ParticipantStatus{domain.StatusMissed}, c.store.writes())
	assert.Equal(t, CalleeMissed, c.callee.View().State)
	_, stops := c.ringer.counts()
	assert.Equal(t, 1, stops)
}
