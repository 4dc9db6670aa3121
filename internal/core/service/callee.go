package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRingTimeout = 60 * time.Second
	unknownCaller      = "Unknown caller"
)

var (
	ErrNoInvitation     = errors.New("no ringing invitation")
	ErrActionNotOffered = errors.New("action not offered")
)

type CalleeState string

const (
	CalleeIdle     CalleeState = "idle"
	CalleeRinging  CalleeState = "ringing"
	CalleeAccepted CalleeState = "accepted"
	CalleeDeclined CalleeState = "declined"
	CalleeMissed   CalleeState = "missed"
)

type Presentation string

const (
	PresentationToast      Presentation = "toast"
	PresentationFullscreen Presentation = "fullscreen"
)

type Action string

const (
	ActionAccept       Action = "accept"
	ActionDecline      Action = "decline"
	ActionLeaveAndJoin Action = "leave-and-join"
)

// Offer is what the decision surface must show for a ringing invitation.
type Offer struct {
	Presentation Presentation
	Actions      []Action
}

func (o Offer) Allows(a Action) bool {
	for _, x := range o.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// OfferFor applies the presentation policy to an invitation for meeting. A
// user already in another meeting may only decline or leave and join.
func OfferFor(reg *Registry, meeting domain.MeetingID) Offer {
	current, in := reg.Current()
	switch {
	case !in:
		return Offer{Presentation: PresentationFullscreen, Actions: []Action{ActionAccept, ActionDecline}}
	case current != meeting:
		return Offer{Presentation: PresentationToast, Actions: []Action{ActionDecline, ActionLeaveAndJoin}}
	default:
		return Offer{Presentation: PresentationToast, Actions: []Action{ActionAccept, ActionDecline}}
	}
}

// CalleeView is the client-surfaced state of the callee.
type CalleeView struct {
	State        CalleeState
	Invitation   domain.CallInvitationEvent
	CallerName   string
	MeetingTitle string
	Offer        Offer
}

// Ringing reports the none|ringing surface flag.
func (v CalleeView) Ringing() bool {
	return v.State == CalleeRinging
}

type CalleeConfig struct {
	RingTimeout       time.Duration
	Retention         time.Duration
	ProcessedCapacity int
}

type CalleeDeps struct {
	Store    port.Store
	Ringer   port.Ringer
	Registry *Registry
	Gateway  *Gateway
	Loop     *Loop
	Clock    clock.Clock
}

// ringing is the scoped resource of one ringing invitation: its timeout and
// its ringtone are acquired together and released together, once.
type ringing struct {
	invitation domain.CallInvitationEvent
	timer      *clock.Timer
	ringer     port.Ringer
	released   bool
}

func (r *ringing) release() {
	if r.released {
		return
	}
	r.released = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.ringer.Stop()
}

type pendingInvitation struct {
	invitation domain.CallInvitationEvent
	at         time.Time
}

// Callee drives incoming invitations for the local user. Unexported methods
// run on the loop only.
type Callee struct {
	user      domain.UserID
	store     port.Store
	ringer    port.Ringer
	registry  *Registry
	gateway   *Gateway
	loop      *Loop
	clock     clock.Clock
	cfg       CalleeConfig
	processed *ProcessedSet
	log       zerolog.Logger
	ctx       context.Context

	current *ringing
	pending []pendingInvitation

	viewMu sync.RWMutex
	view   CalleeView

	hookMu     sync.Mutex
	viewHooks  []func(CalleeView)
	errorHooks []func(error)
}

func NewCallee(user domain.UserID, deps CalleeDeps, cfg CalleeConfig) *Callee {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	c := &Callee{
		user:      user,
		store:     deps.Store,
		ringer:    deps.Ringer,
		registry:  deps.Registry,
		gateway:   deps.Gateway,
		loop:      deps.Loop,
		clock:     deps.Clock,
		cfg:       cfg,
		processed: NewProcessedSet(deps.Clock, cfg.Retention, cfg.ProcessedCapacity),
		log:       log.With().Str("component", "callee").Str("user_id", user.String()).Logger(),
		ctx:       context.Background(),
		view:      CalleeView{State: CalleeIdle},
	}
	c.registry.OnChange(func(domain.MeetingID, bool) {
		_ = c.loop.Post(c.refreshOffer)
	})
	return c
}

// OnView registers fn to receive every view change. fn runs on the loop.
func (c *Callee) OnView(fn func(CalleeView)) {
	c.hookMu.Lock()
	c.viewHooks = append(c.viewHooks, fn)
	c.hookMu.Unlock()
}

// OnError registers fn to receive reported, non-fatal errors. fn runs on the loop.
func (c *Callee) OnError(fn func(error)) {
	c.hookMu.Lock()
	c.errorHooks = append(c.errorHooks, fn)
	c.hookMu.Unlock()
}

func (c *Callee) View() CalleeView {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view
}

func (c *Callee) Processed() *ProcessedSet {
	return c.processed
}

// Start subscribes to the user's invitation channel and reconciles against the
// store. Reconciliation runs again after every reconnect. A subscribe failure
// is returned after reconciliation still ran.
func (c *Callee) Start(ctx context.Context) error {
	c.ctx = ctx
	c.gateway.OnReconnected(func() {
		if err := c.Reconcile(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Reconciliation after reconnect failed")
		}
	})

	subErr := c.gateway.Subscribe(ctx, domain.InvitationChannel(c.user), c.handle)
	if subErr != nil {
		c.log.Warn().Err(subErr).Msg("Invitation channel unavailable, relying on reconciliation")
	}
	if err := c.Reconcile(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Bootstrap reconciliation failed")
	}
	return subErr
}

// Reconcile surfaces any invited rows the store holds for the user, through
// the same path as live events.
func (c *Callee) Reconcile(ctx context.Context) error {
	rows, err := c.store.ListInvited(ctx, c.user)
	if err != nil {
		return fmt.Errorf("list invited: %w", err)
	}
	c.log.Debug().Int("count", len(rows)).Msg("Bootstrap reconciliation")
	return c.loop.Post(func() {
		for _, p := range rows {
			if p.Status == domain.StatusInvited {
				c.offer(domain.InvitationEventOf(p), "bootstrap")
			}
		}
	})
}

// Accept accepts the ringing invitation. Safe to call from any goroutine.
func (c *Callee) Accept() error {
	return c.loop.Post(c.accept)
}

// Decline declines the ringing invitation. Safe to call from any goroutine.
func (c *Callee) Decline() error {
	return c.loop.Post(c.decline)
}

// Respond performs action if the current offer allows it. Not for use on the loop.
func (c *Callee) Respond(ctx context.Context, action Action) error {
	var err error
	doErr := c.loop.Do(ctx, func() {
		if c.current == nil {
			err = ErrNoInvitation
			return
		}
		if !c.View().Offer.Allows(action) {
			err = fmt.Errorf("%w: %s", ErrActionNotOffered, action)
			return
		}
		switch action {
		case ActionAccept, ActionLeaveAndJoin:
			c.accept()
		case ActionDecline:
			c.decline()
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (c *Callee) handle(ev domain.Event) {
	if ev.Kind != domain.KindInvitation {
		return
	}
	c.offer(ev.Invitation, "live")
}

func (c *Callee) offer(inv domain.CallInvitationEvent, source string) {
	l := c.log.With().
		Str("participant_id", inv.ParticipantID.String()).
		Str("meeting_id", inv.MeetingID.String()).
		Str("source", source).
		Logger()

	if inv.UserID != c.user {
		l.Debug().Msg("Invitation for another user ignored")
		return
	}
	if inv.Status != domain.StatusInvited {
		c.settle(inv)
		return
	}
	if c.processed.Seen(inv.ParticipantID) {
		l.Debug().Msg("Duplicate invitation ignored")
		return
	}
	if c.current != nil {
		for _, p := range c.pending {
			if p.invitation.ParticipantID == inv.ParticipantID {
				return
			}
		}
		c.pending = append(c.pending, pendingInvitation{invitation: inv, at: c.clock.Now()})
		l.Info().Msg("Invitation deferred while ringing")
		return
	}
	c.ring(inv)
	l.Info().Msg("Ringing")
}

func (c *Callee) ring(inv domain.CallInvitationEvent) {
	c.processed.Mark(inv.ParticipantID)

	r := &ringing{invitation: inv, ringer: c.ringer}
	r.timer = c.loop.AfterFunc(c.clock, c.cfg.RingTimeout, func() { c.expire(r) })
	c.ringer.Start()
	c.current = r

	c.setView(CalleeView{
		State:      CalleeRinging,
		Invitation: inv,
		CallerName: unknownCaller,
		Offer:      OfferFor(c.registry, inv.MeetingID),
	})
	go c.describe(r)
}

// describe resolves the caller's display name and the meeting title for the view.
func (c *Callee) describe(r *ringing) {
	meeting, err := c.store.GetMeeting(c.ctx, r.invitation.MeetingID)
	if err != nil {
		c.log.Warn().Err(err).Str("meeting_id", r.invitation.MeetingID.String()).Msg("Fetch meeting failed")
		return
	}
	name := unknownCaller
	members, err := c.store.ListMembers(c.ctx, meeting.OrganizationID)
	if err != nil {
		c.log.Warn().Err(err).Msg("Fetch organization members failed")
	} else {
		name = domain.DisplayNameOf(members, meeting.HostID, unknownCaller)
	}

	_ = c.loop.Post(func() {
		if c.current != r {
			return
		}
		v := c.View()
		v.CallerName = name
		v.MeetingTitle = meeting.Title
		c.setView(v)
	})
}

func (c *Callee) refreshOffer() {
	if c.current == nil {
		return
	}
	v := c.View()
	v.Offer = OfferFor(c.registry, c.current.invitation.MeetingID)
	c.setView(v)
}

// settle handles a non-invited status for an invitation this client knows
// about: the invitation was resolved elsewhere, so stop ringing without a commit.
func (c *Callee) settle(inv domain.CallInvitationEvent) {
	for i, p := range c.pending {
		if p.invitation.ParticipantID == inv.ParticipantID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	r := c.current
	if r == nil || r.invitation.ParticipantID != inv.ParticipantID {
		// Resolved before it rang here: a late bootstrap row or a stale
		// invited redelivery for it must not ring.
		if c.processed.Mark(inv.ParticipantID) {
			c.processed.Resolve(inv.ParticipantID)
		}
		return
	}
	state := CalleeDeclined
	switch inv.Status {
	case domain.StatusAccepted:
		state = CalleeAccepted
	case domain.StatusMissed:
		state = CalleeMissed
	}
	c.log.Info().Str("participant_id", inv.ParticipantID.String()).Str("status", string(inv.Status)).Msg("Invitation resolved elsewhere")
	c.finish(r, state)
}

func (c *Callee) expire(r *ringing) {
	if c.current != r {
		return
	}
	c.finish(r, CalleeMissed)
	go c.commitMissed(r.invitation)
}

func (c *Callee) accept() {
	r := c.current
	if r == nil {
		c.log.Debug().Msg("Accept without ringing invitation ignored")
		return
	}
	c.finish(r, CalleeAccepted)

	inv := r.invitation
	go func() {
		c.commit(inv, domain.StatusAccepted)
		if err := c.registry.Join(c.ctx, inv.MeetingID); err != nil {
			c.report(err)
		}
	}()
}

func (c *Callee) decline() {
	r := c.current
	if r == nil {
		c.log.Debug().Msg("Decline without ringing invitation ignored")
		return
	}
	c.finish(r, CalleeDeclined)
	go c.commit(r.invitation, domain.StatusDeclined)
}

// finish is the single terminal transition. Whoever reaches it first for r wins;
// c.current is cleared so later writers see nothing to resolve.
func (c *Callee) finish(r *ringing, state CalleeState) {
	r.release()
	c.processed.Resolve(r.invitation.ParticipantID)
	c.current = nil

	v := c.View()
	v.State = state
	c.setView(v)
	c.log.Info().
		Str("participant_id", r.invitation.ParticipantID.String()).
		Str("status", string(state)).
		Msg("Invitation resolved")

	if len(c.pending) > 0 {
		_ = c.loop.Post(c.surfaceNext)
	}
}

func (c *Callee) surfaceNext() {
	if c.current != nil {
		return
	}
	now := c.clock.Now()
	for len(c.pending) > 0 {
		p := c.pending[0]
		c.pending = c.pending[1:]
		if c.processed.Seen(p.invitation.ParticipantID) {
			continue
		}
		if now.Sub(p.at) >= c.cfg.RingTimeout {
			c.log.Debug().Str("participant_id", p.invitation.ParticipantID.String()).Msg("Deferred invitation expired")
			continue
		}
		c.ring(p.invitation)
		return
	}
}

func (c *Callee) commit(inv domain.CallInvitationEvent, status domain.ParticipantStatus) {
	if _, err := c.store.UpdateStatus(c.ctx, inv.MeetingID, inv.ParticipantID, status); err != nil {
		c.report(&domain.StoreCommitError{ParticipantID: inv.ParticipantID, Status: status, Err: err})
	}
}

// commitMissed marks the invitation missed, falling back to declined when the
// missed endpoint cannot take the write.
func (c *Callee) commitMissed(inv domain.CallInvitationEvent) {
	_, err := c.store.MarkMissed(c.ctx, inv.MeetingID, inv.ParticipantID)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrTerminalStatus) {
		c.report(&domain.StoreCommitError{ParticipantID: inv.ParticipantID, Status: domain.StatusMissed, Err: err})
		return
	}
	c.log.Warn().Err(err).Str("participant_id", inv.ParticipantID.String()).Msg("Mark missed failed, committing declined")
	c.commit(inv, domain.StatusDeclined)
}

func (c *Callee) report(err error) {
	c.log.Warn().Err(err).Msg("Commit failed")

	c.hookMu.Lock()
	hooks := make([]func(error), len(c.errorHooks))
	copy(hooks, c.errorHooks)
	c.hookMu.Unlock()

	for _, fn := range hooks {
		_ = c.loop.Post(func() { fn(err) })
	}
}

func (c *Callee) setView(v CalleeView) {
	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()

	c.hookMu.Lock()
	hooks := make([]func(CalleeView), len(c.viewHooks))
	copy(hooks, c.viewHooks)
	c.hookMu.Unlock()

	for _, fn := range hooks {
		fn(v)
	}
}
