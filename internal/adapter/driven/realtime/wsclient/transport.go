// Package wsclient is the client end of the realtime websocket protocol.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReplyTimeout = 5 * time.Second
	DefaultReconnectFor = 15 * time.Minute
	inboundBuffer       = 64
	writeWait           = 10 * time.Second
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
	ErrReplyTimeout = errors.New("reply timed out")
)

type Config struct {
	URL          string
	ReplyTimeout time.Duration
	// ReconnectFor bounds how long a lost connection is retried before the
	// transport gives up and closes.
	ReconnectFor    time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Dialer          *websocket.Dialer
	Clock           clock.Clock
}

// Transport implements port.Transport over one websocket, redialled on loss.
type Transport struct {
	cfg     Config
	inbound chan port.Inbound
	ref     atomic.Uint64
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ws.Frame
	closed  bool

	writeMu sync.Mutex
}

var _ port.Transport = (*Transport)(nil)

// Dial connects to cfg.URL and starts reading. The connection is redialled in
// the background whenever it drops, until Close.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.ReconnectFor <= 0 {
		cfg.ReconnectFor = DefaultReconnectFor
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	conn, _, err := cfg.Dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:     cfg,
		inbound: make(chan port.Inbound, inboundBuffer),
		log:     log.With().Str("component", "wsclient").Str("url", cfg.URL).Logger(),
		ctx:     tctx,
		cancel:  cancel,
		conn:    conn,
		pending: make(map[string]chan ws.Frame),
	}
	go t.run(conn)
	return t, nil
}

func (t *Transport) Inbound() <-chan port.Inbound {
	return t.inbound
}

func (t *Transport) Authenticate(ctx context.Context, token string) error {
	reply, err := t.request(ctx, ws.Frame{Type: ws.FrameAuth, Token: token})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if reply.Status != ws.StatusOK {
		return fmt.Errorf("auth: %w: %s", domain.ErrUnauthorized, reply.Reason)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, private bool) (domain.SubscribeStatus, error) {
	reply, err := t.request(ctx, ws.Frame{Type: ws.FrameSubscribe, Channel: channel, Private: private})
	switch {
	case errors.Is(err, ErrReplyTimeout):
		return domain.SubscribeTimedOut, fmt.Errorf("subscribe %s: %w", channel, err)
	case err != nil:
		return domain.SubscribeClosed, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	status := domain.SubscribeStatus(reply.Status)
	switch status {
	case domain.SubscribeOK:
		return status, nil
	case domain.SubscribeChannelError:
		switch reply.Reason {
		case ws.ReasonUnauthorized:
			return status, &domain.AuthorizationError{Channel: channel, Reason: reply.Reason}
		case ws.ReasonForbidden:
			return status, fmt.Errorf("subscribe %s: %w", channel, domain.ErrForbidden)
		}
		return status, fmt.Errorf("subscribe %s: %s", channel, reply.Reason)
	case domain.SubscribeTimedOut, domain.SubscribeClosed:
		return status, fmt.Errorf("subscribe %s: %s", channel, reply.Reason)
	}
	return domain.SubscribeChannelError, fmt.Errorf("subscribe %s: unexpected status %q", channel, reply.Status)
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	reply, err := t.request(ctx, ws.Frame{Type: ws.FrameUnsubscribe, Channel: channel})
	if err != nil {
		return err
	}
	if reply.Status != ws.StatusOK {
		return fmt.Errorf("unsubscribe %s: %s", channel, reply.Reason)
	}
	return nil
}

// Close stops reconnecting and closes the connection. Inbound is closed once
// the reader has exited.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *Transport) request(ctx context.Context, f ws.Frame) (ws.Frame, error) {
	f.Ref = strconv.FormatUint(t.ref.Add(1), 10)
	ch := make(chan ws.Frame, 1)

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ws.Frame{}, ErrClosed
	case t.conn == nil:
		t.mu.Unlock()
		return ws.Frame{}, ErrNotConnected
	}
	conn := t.conn
	t.pending[f.Ref] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, f.Ref)
		t.mu.Unlock()
	}()

	if err := t.write(conn, f); err != nil {
		return ws.Frame{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	timer := t.cfg.Clock.Timer(t.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Type != ws.FrameReply {
			return ws.Frame{}, ErrNotConnected
		}
		return reply, nil
	case <-timer.C:
		return ws.Frame{}, ErrReplyTimeout
	case <-ctx.Done():
		return ws.Frame{}, ctx.Err()
	case <-t.ctx.Done():
		return ws.Frame{}, ErrClosed
	}
}

func (t *Transport) write(conn *websocket.Conn, f ws.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (t *Transport) emit(msg port.Inbound) {
	select {
	case t.inbound <- msg:
	case <-t.ctx.Done():
	}
}

func (t *Transport) run(conn *websocket.Conn) {
	defer close(t.inbound)
	for {
		err := t.read(conn)

		t.mu.Lock()
		t.conn = nil
		closed := t.closed
		// Wake every waiter; a frame that is not a reply means the connection is gone.
		for ref, ch := range t.pending {
			ch <- ws.Frame{Ref: ref}
			delete(t.pending, ref)
		}
		t.mu.Unlock()

		if closed {
			return
		}
		t.log.Warn().Err(err).Msg("Connection lost")
		t.emit(port.Inbound{Kind: port.InboundDisconnected, Err: err})

		conn, err = t.redial()
		if err != nil {
			if t.ctx.Err() == nil {
				t.log.Error().Err(err).Msg("Reconnect abandoned")
			}
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
			t.cancel()
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.log.Info().Msg("Reconnected")
		t.emit(port.Inbound{Kind: port.InboundReconnected})
	}
}

func (t *Transport) redial() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	if t.cfg.InitialInterval > 0 {
		b.InitialInterval = t.cfg.InitialInterval
	}
	if t.cfg.MaxInterval > 0 {
		b.MaxInterval = t.cfg.MaxInterval
	}

	return backoff.Retry(t.ctx, func() (*websocket.Conn, error) {
		conn, _, err := t.cfg.Dialer.DialContext(t.ctx, t.cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(t.cfg.ReconnectFor),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.log.Debug().Err(err).Dur("next", next).Msg("Redial failed")
		}),
	)
}

func (t *Transport) read(conn *websocket.Conn) error {
	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}

		switch f.Type {
		case ws.FrameReply:
			t.mu.Lock()
			ch, ok := t.pending[f.Ref]
			delete(t.pending, f.Ref)
			t.mu.Unlock()
			if ok {
				ch <- f
			}

		case ws.FrameBroadcast:
			t.emit(port.Inbound{
				Kind:    port.InboundBroadcast,
				Channel: f.Channel,
				Event:   f.Event,
				Payload: []byte(f.Payload),
			})

		case ws.FrameNotice:
			var err error
			if f.Reason != "" {
				err = errors.New(f.Reason)
			}
			t.emit(port.Inbound{
				Kind:    port.InboundNotice,
				Channel: f.Channel,
				Status:  domain.SubscribeStatus(f.Status),
				Err:     err,
			})

		default:
			t.log.Debug().Str("type", f.Type).Msg("Unknown frame dropped")
		}
	}
}
