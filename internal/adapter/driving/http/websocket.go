package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var (
	errPeerClosed = errors.New("peer closed")
	errPeerSlow   = errors.New("peer send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web app origin once it has a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one realtime connection. Writes go through a buffered queue
// drained by writePump, so the hub never blocks on a slow peer.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan ws.Frame
	done chan struct{}
	once sync.Once
}

var _ ws.Client = (*WSClient)(nil)

func newWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan ws.Frame, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) Send(f ws.Frame) error {
	select {
	case <-c.done:
		return errPeerClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return errPeerSlow
	}
}

func (c *WSClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *WSClient) write(f ws.Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *WSClient) writePump(l zerolog.Logger) {
	defer c.conn.Close()
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				l.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case f := <-c.send:
					if err := c.write(f); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// ServeWS upgrades the request into a realtime connection and serves its frames.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := newWSClient(conn)
	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)
	go client.writePump(l)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	var (
		user   domain.UserID
		authed bool
	)
	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		var reply ws.Frame
		switch f.Type {
		case ws.FrameAuth:
			u, err := h.Verifier.Verify(f.Token)
			if err != nil {
				authed = false
				l.Warn().Err(err).Msg("Realtime auth rejected")
				reply = ws.Reply(f.Ref, ws.StatusError, ws.ReasonUnauthorized)
				break
			}
			user, authed = u, true
			l = l.With().Str("user_id", user.String()).Logger()
			reply = ws.Reply(f.Ref, ws.StatusOK, "")

		case ws.FrameSubscribe:
			reply = h.subscribe(r.Context(), client, f, user, authed)
			l.Debug().Str("channel", f.Channel).Str("status", reply.Status).Msg("Subscribe")

		case ws.FrameUnsubscribe:
			if err := h.Hub.Unsubscribe(client, f.Channel); err != nil {
				reply = ws.Reply(f.Ref, ws.StatusError, err.Error())
				break
			}
			reply = ws.Reply(f.Ref, ws.StatusOK, "")

		default:
			reply = ws.Reply(f.Ref, ws.StatusError, ws.ReasonBadRequest)
		}

		if err := client.Send(reply); err != nil {
			l.Warn().Err(err).Msg("Reply dropped")
			return
		}
	}
}

func (h *Handler) subscribe(ctx context.Context, client *WSClient, f ws.Frame, user domain.UserID, authed bool) ws.Frame {
	channelError := func(reason string) ws.Frame {
		return ws.Reply(f.Ref, string(domain.SubscribeChannelError), reason)
	}
	if !f.Private {
		return channelError(ws.ReasonForbidden)
	}
	if !authed {
		return channelError(ws.ReasonUnauthorized)
	}
	if err := h.authorizeChannel(ctx, user, f.Channel); err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden):
			return channelError(ws.ReasonForbidden)
		case errors.Is(err, domain.ErrNotFound):
			return channelError(ws.ReasonForbidden)
		default:
			return channelError(ws.ReasonBadRequest)
		}
	}
	if err := h.Hub.Subscribe(client, f.Channel); err != nil {
		return ws.Reply(f.Ref, string(domain.SubscribeClosed), err.Error())
	}
	return ws.Reply(f.Ref, string(domain.SubscribeOK), "")
}
