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
	DefaultCallTimeout  = 60 * time.Second
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultDisplayDelay = 2 * time.Second
)

type CallerState string

const (
	CallerCalling  CallerState = "calling"
	CallerAccepted CallerState = "accepted"
	CallerDeclined CallerState = "declined"
	CallerTimeout  CallerState = "timeout"
)

func (s CallerState) IsTerminal() bool {
	return s != CallerCalling
}

// Invitation identifies the outgoing call the caller is waiting on.
// ParticipantID may be zero until the first matching status update.
type Invitation struct {
	MeetingID     domain.MeetingID
	ParticipantID domain.ParticipantID
	UserID        domain.UserID
}

// Matches reports whether ev concerns this invitation, by participant or by user.
func (i Invitation) Matches(ev domain.CallStatusEvent) bool {
	if !i.ParticipantID.IsZero() && ev.ParticipantID == i.ParticipantID {
		return true
	}
	return !i.UserID.IsZero() && ev.UserID == i.UserID
}

// Dial creates the invited row that rings user and returns the invitation to track.
func Dial(ctx context.Context, store port.Store, meeting domain.MeetingID, user domain.UserID) (Invitation, error) {
	p, err := store.Invite(ctx, meeting, user)
	if err != nil {
		return Invitation{}, fmt.Errorf("invite %s: %w", user, err)
	}
	return Invitation{MeetingID: meeting, ParticipantID: p.ID, UserID: user}, nil
}

type CallerConfig struct {
	CallTimeout  time.Duration
	SettleDelay  time.Duration
	DisplayDelay time.Duration
}

type CallerDeps struct {
	Store    port.Store
	Gateway  *Gateway
	Registry *Registry
	Loop     *Loop
	Clock    clock.Clock
}

// Caller tracks one outgoing invitation until it is answered, declined,
// cancelled or times out. Unexported methods run on the loop only.
type Caller struct {
	invite   Invitation
	store    port.Store
	gateway  *Gateway
	registry *Registry
	loop     *Loop
	clock    clock.Clock
	cfg      CallerConfig
	log      zerolog.Logger
	ctx      context.Context

	timer   *clock.Timer
	hold    *clock.Timer
	cleaned bool

	mu    sync.RWMutex
	state CallerState

	hookMu     sync.Mutex
	stateHooks []func(CallerState)
	doneHooks  []func(CallerState)
}

func NewCaller(invite Invitation, deps CallerDeps, cfg CallerConfig) *Caller {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.DisplayDelay <= 0 {
		cfg.DisplayDelay = DefaultDisplayDelay
	}
	return &Caller{
		invite:   invite,
		store:    deps.Store,
		gateway:  deps.Gateway,
		registry: deps.Registry,
		loop:     deps.Loop,
		clock:    deps.Clock,
		cfg:      cfg,
		log: log.With().
			Str("component", "caller").
			Str("meeting_id", invite.MeetingID.String()).
			Str("user_id", invite.UserID.String()).
			Logger(),
		ctx:   context.Background(),
		state: CallerCalling,
	}
}

func (c *Caller) State() CallerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnState registers fn to receive every state change. fn runs on the loop.
func (c *Caller) OnState(fn func(CallerState)) {
	c.hookMu.Lock()
	c.stateHooks = append(c.stateHooks, fn)
	c.hookMu.Unlock()
}

// OnDone registers fn to run once the caller has cleaned up. fn runs on the loop.
func (c *Caller) OnDone(fn func(CallerState)) {
	c.hookMu.Lock()
	c.doneHooks = append(c.doneHooks, fn)
	c.hookMu.Unlock()
}

// Start arms the call timeout, subscribes to the meeting's status channel and
// then reads the participant once from the store, in case the answer was
// committed before the subscription opened. Not for use on the loop.
func (c *Caller) Start(ctx context.Context) error {
	c.ctx = ctx
	if err := c.loop.Do(ctx, func() {
		c.timer = c.loop.AfterFunc(c.clock, c.cfg.CallTimeout, c.expire)
	}); err != nil {
		return err
	}
	c.log.Info().Dur("timeout", c.cfg.CallTimeout).Msg("Calling")

	if err := c.gateway.Subscribe(ctx, domain.StatusChannel(c.invite.MeetingID), c.handle); err != nil {
		c.log.Warn().Err(err).Msg("Status channel unavailable, waiting for timeout")
		return err
	}
	c.reconcile(ctx)
	return nil
}

func (c *Caller) reconcile(ctx context.Context) {
	var (
		p   domain.Participant
		err error
	)
	if c.invite.ParticipantID.IsZero() {
		p, err = c.store.FindParticipant(ctx, c.invite.MeetingID, c.invite.UserID)
	} else {
		p, err = c.store.GetParticipant(ctx, c.invite.MeetingID, c.invite.ParticipantID)
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("Participant lookup failed")
		return
	}
	if !p.Status.IsTerminal() {
		return
	}
	_ = c.loop.Post(func() { c.apply(domain.StatusEventOf(p)) })
}

// Cancel withdraws the invitation. Safe to call from any goroutine.
func (c *Caller) Cancel() error {
	return c.loop.Post(c.cancel)
}

func (c *Caller) handle(ev domain.Event) {
	if ev.Kind != domain.KindStatusUpdate {
		return
	}
	c.apply(ev.StatusUpdate)
}

func (c *Caller) apply(ev domain.CallStatusEvent) {
	if !c.invite.Matches(ev) {
		return
	}
	if c.State().IsTerminal() {
		c.log.Debug().Str("status", string(ev.Status)).Msg("Status update after resolution ignored")
		return
	}
	if c.invite.ParticipantID.IsZero() {
		c.invite.ParticipantID = ev.ParticipantID
	}

	switch ev.Status {
	case domain.StatusAccepted:
		c.transition(CallerAccepted)
		meeting := c.invite.MeetingID
		c.hold = c.loop.AfterFunc(c.clock, c.cfg.SettleDelay, func() {
			go func() {
				if err := c.registry.Join(c.ctx, meeting); err != nil {
					c.log.Error().Err(err).Msg("Join meeting failed")
				}
			}()
			c.cleanup()
		})
	case domain.StatusDeclined:
		c.transition(CallerDeclined)
		c.hold = c.loop.AfterFunc(c.clock, c.cfg.DisplayDelay, c.cleanup)
	case domain.StatusMissed:
		c.transition(CallerTimeout)
		c.hold = c.loop.AfterFunc(c.clock, c.cfg.DisplayDelay, c.cleanup)
	}
}

func (c *Caller) expire() {
	if c.State().IsTerminal() {
		return
	}
	c.transition(CallerTimeout)
	c.hold = c.loop.AfterFunc(c.clock, c.cfg.DisplayDelay, c.cleanup)
}

func (c *Caller) cancel() {
	if c.State().IsTerminal() {
		return
	}
	c.transition(CallerDeclined)
	go c.commitCancel(c.invite)
	c.cleanup()
}

// commitCancel is best effort: the invitation is already gone for the caller.
func (c *Caller) commitCancel(inv Invitation) {
	pid := inv.ParticipantID
	if pid.IsZero() {
		p, err := c.store.FindParticipant(c.ctx, inv.MeetingID, inv.UserID)
		if err != nil {
			c.log.Warn().Err(err).Msg("Resolve participant for cancel failed")
			return
		}
		pid = p.ID
	}
	if _, err := c.store.UpdateStatus(c.ctx, inv.MeetingID, pid, domain.StatusDeclined); err != nil {
		cerr := &domain.StoreCommitError{ParticipantID: pid, Status: domain.StatusDeclined, Err: err}
		if errors.Is(err, domain.ErrTerminalStatus) {
			c.log.Debug().Err(cerr).Msg("Cancel lost to an earlier resolution")
			return
		}
		c.log.Warn().Err(cerr).Msg("Cancel commit failed")
	}
}

func (c *Caller) transition(s CallerState) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Info().Str("state", string(s)).Msg("Call state changed")

	c.hookMu.Lock()
	hooks := make([]func(CallerState), len(c.stateHooks))
	copy(hooks, c.stateHooks)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
}

func (c *Caller) cleanup() {
	if c.cleaned {
		return
	}
	c.cleaned = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.hold != nil {
		c.hold.Stop()
	}

	channel := domain.StatusChannel(c.invite.MeetingID)
	go func() {
		if err := c.gateway.Unsubscribe(c.ctx, channel); err != nil {
			c.log.Warn().Err(err).Msg("Unsubscribe status channel failed")
		}
	}()

	state := c.State()
	c.hookMu.Lock()
	hooks := make([]func(CallerState), len(c.doneHooks))
	copy(hooks, c.doneHooks)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn(state)
	}
}
