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
	DefaultPropagationDelay = 400 * time.Millisecond
	DefaultAuthRetryDelay   = time.Second
)

// Handler receives decoded events for one channel. It always runs on the loop.
type Handler func(domain.Event)

// Connection is the explicit context of one realtime connection: where the
// credential comes from, when it was last attached, and which channels are open.
type Connection struct {
	tokens port.TokenSource

	mu            sync.Mutex
	authenticated bool
	attachedAt    time.Time
	subs          map[string]*subscription
}

type subscription struct {
	handler    Handler
	subscribed bool
}

func NewConnection(tokens port.TokenSource) *Connection {
	return &Connection{
		tokens: tokens,
		subs:   make(map[string]*subscription),
	}
}

func (c *Connection) attach(at time.Time) {
	c.mu.Lock()
	c.authenticated = true
	c.attachedAt = at
	c.mu.Unlock()
}

func (c *Connection) detach() {
	c.mu.Lock()
	c.authenticated = false
	for _, s := range c.subs {
		s.subscribed = false
	}
	c.mu.Unlock()
}

func (c *Connection) attached() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedAt, c.authenticated
}

func (c *Connection) register(channel string, h Handler) {
	c.mu.Lock()
	c.subs[channel] = &subscription{handler: h}
	c.mu.Unlock()
}

func (c *Connection) unregister(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	delete(c.subs, channel)
	return ok
}

func (c *Connection) setSubscribed(channel string, v bool) {
	c.mu.Lock()
	if s, ok := c.subs[channel]; ok {
		s.subscribed = v
	}
	c.mu.Unlock()
}

func (c *Connection) handler(channel string) (Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[channel]
	if !ok {
		return nil, false
	}
	return s.handler, true
}

// Subscribed reports whether channel currently has a confirmed subscription.
func (c *Connection) Subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[channel]
	return ok && s.subscribed
}

// Channels lists every registered channel.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

type GatewayConfig struct {
	PropagationDelay time.Duration
	AuthRetryDelay   time.Duration
}

// Gateway attaches the credential to the transport, opens private channel
// subscriptions and feeds decoded events into the loop.
type Gateway struct {
	transport port.Transport
	conn      *Connection
	loop      *Loop
	clock     clock.Clock
	cfg       GatewayConfig
	log       zerolog.Logger

	authMu    sync.Mutex
	restoreMu sync.Mutex

	hookMu      sync.Mutex
	reconnected []func()
	degraded    []func(error)
}

func NewGateway(transport port.Transport, conn *Connection, loop *Loop, clk clock.Clock, cfg GatewayConfig) *Gateway {
	if cfg.PropagationDelay <= 0 {
		cfg.PropagationDelay = DefaultPropagationDelay
	}
	if cfg.AuthRetryDelay <= 0 {
		cfg.AuthRetryDelay = DefaultAuthRetryDelay
	}
	return &Gateway{
		transport: transport,
		conn:      conn,
		loop:      loop,
		clock:     clk,
		cfg:       cfg,
		log:       log.With().Str("component", "gateway").Logger(),
	}
}

// OnReconnected registers fn to run after a new transport connection has been
// re-authenticated and its channels resubscribed. fn runs off the loop.
func (g *Gateway) OnReconnected(fn func()) {
	g.hookMu.Lock()
	g.reconnected = append(g.reconnected, fn)
	g.hookMu.Unlock()
}

// OnDegraded registers fn to receive every surfaced TransportError. fn runs on the loop.
func (g *Gateway) OnDegraded(fn func(error)) {
	g.hookMu.Lock()
	g.degraded = append(g.degraded, fn)
	g.hookMu.Unlock()
}

// Authenticate attaches the current credential to the connection. It is safe
// to call repeatedly; each call restarts the propagation wait.
func (g *Gateway) Authenticate(ctx context.Context) error {
	g.authMu.Lock()
	defer g.authMu.Unlock()

	token, err := g.conn.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if err := g.transport.Authenticate(ctx, token); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	g.conn.attach(g.clock.Now())
	g.log.Debug().Msg("Credential attached")
	return nil
}

// Subscribe opens a private subscription to channel and routes its events to h.
func (g *Gateway) Subscribe(ctx context.Context, channel string, h Handler) error {
	g.conn.register(channel, h)
	if err := g.subscribe(ctx, channel); err != nil {
		g.conn.unregister(channel)
		return err
	}
	return nil
}

func (g *Gateway) subscribe(ctx context.Context, channel string) error {
	l := g.log.With().Str("channel", channel).Logger()

	if _, ok := g.conn.attached(); !ok {
		if err := g.Authenticate(ctx); err != nil {
			return g.fail(ctx, channel, domain.SubscribeChannelError, err)
		}
	}
	if err := g.waitPropagated(ctx); err != nil {
		return err
	}

	status, err := g.transport.Subscribe(ctx, channel, true)
	if status == domain.SubscribeOK {
		g.conn.setSubscribed(channel, true)
		l.Info().Msg("Subscribed")
		return nil
	}
	if status != domain.SubscribeChannelError || !errors.Is(err, domain.ErrUnauthorized) {
		return g.fail(ctx, channel, status, err)
	}

	// One re-authenticate and resubscribe, then give up.
	l.Warn().Err(err).Msg("Subscribe unauthorized, retrying once")
	if err := g.sleep(ctx, g.cfg.AuthRetryDelay); err != nil {
		return err
	}
	if err := g.Authenticate(ctx); err != nil {
		return g.fail(ctx, channel, domain.SubscribeChannelError, err)
	}
	if err := g.waitPropagated(ctx); err != nil {
		return err
	}
	status, err = g.transport.Subscribe(ctx, channel, true)
	if status == domain.SubscribeOK {
		g.conn.setSubscribed(channel, true)
		l.Info().Msg("Subscribed after re-authentication")
		return nil
	}
	return g.fail(ctx, channel, status, err)
}

func (g *Gateway) fail(ctx context.Context, channel string, status domain.SubscribeStatus, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	terr := &domain.TransportError{Channel: channel, Status: status, Err: err}
	g.degrade(terr)
	return terr
}

func (g *Gateway) degrade(err *domain.TransportError) {
	g.log.Error().Err(err).Str("channel", err.Channel).Str("status", string(err.Status)).Msg("Realtime degraded")

	g.hookMu.Lock()
	hooks := make([]func(error), len(g.degraded))
	copy(hooks, g.degraded)
	g.hookMu.Unlock()

	for _, fn := range hooks {
		_ = g.loop.Post(func() { fn(err) })
	}
}

func (g *Gateway) waitPropagated(ctx context.Context) error {
	at, _ := g.conn.attached()
	return g.sleep(ctx, at.Add(g.cfg.PropagationDelay).Sub(g.clock.Now()))
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := g.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe closes channel. Unknown channels are ignored.
func (g *Gateway) Unsubscribe(ctx context.Context, channel string) error {
	if !g.conn.unregister(channel) {
		return nil
	}
	if err := g.transport.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	g.log.Debug().Str("channel", channel).Msg("Unsubscribed")
	return nil
}

// Close unsubscribes every channel and closes the transport.
func (g *Gateway) Close(ctx context.Context) error {
	for _, ch := range g.conn.Channels() {
		if err := g.Unsubscribe(ctx, ch); err != nil {
			g.log.Warn().Err(err).Msg("Unsubscribe on close failed")
		}
	}
	return g.transport.Close()
}

// Run pumps the transport until ctx is done or the transport closes.
func (g *Gateway) Run(ctx context.Context) error {
	in := g.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			g.handle(ctx, msg)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg port.Inbound) {
	switch msg.Kind {
	case port.InboundBroadcast:
		h, ok := g.conn.handler(msg.Channel)
		if !ok {
			g.log.Debug().Str("channel", msg.Channel).Str("event", msg.Event).Msg("Broadcast for unknown channel dropped")
			return
		}
		ev := domain.Decode(msg.Channel, msg.Event, msg.Payload)
		if ev.Kind == domain.KindMalformed {
			g.log.Warn().Err(ev.Err).Str("channel", msg.Channel).Msg("Malformed event dropped")
			return
		}
		if err := g.loop.Post(func() { h(ev) }); err != nil {
			g.log.Debug().Err(err).Msg("Event dropped")
		}

	case port.InboundNotice:
		if msg.Status == domain.SubscribeOK {
			return
		}
		g.conn.setSubscribed(msg.Channel, false)
		g.degrade(&domain.TransportError{Channel: msg.Channel, Status: msg.Status, Err: msg.Err})

	case port.InboundDisconnected:
		g.conn.detach()
		g.degrade(&domain.TransportError{Status: domain.SubscribeClosed, Err: msg.Err})

	case port.InboundReconnected:
		go g.restore(ctx)
	}
}

// restore brings a fresh transport connection back to the registered set of
// channels and then runs the reconnect hooks. Back-to-back reconnects restore
// one after the other.
func (g *Gateway) restore(ctx context.Context) {
	g.restoreMu.Lock()
	defer g.restoreMu.Unlock()

	g.conn.detach()
	if err := g.Authenticate(ctx); err != nil {
		g.degrade(&domain.TransportError{Status: domain.SubscribeChannelError, Err: err})
		return
	}
	for _, ch := range g.conn.Channels() {
		if err := g.subscribe(ctx, ch); err != nil {
			g.log.Warn().Err(err).Str("channel", ch).Msg("Resubscribe failed")
		}
	}

	g.hookMu.Lock()
	hooks := make([]func(), len(g.reconnected))
	copy(hooks, g.reconnected)
	g.hookMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
