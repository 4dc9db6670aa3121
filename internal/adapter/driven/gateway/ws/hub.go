package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

type subscription struct {
	client  Client
	channel string
	on      bool
	done    chan struct{}
}

type message struct {
	channel string
	frame   Frame
}

// Hub fans broadcasts out to the clients subscribed to each channel. Run owns
// all client and topic state.
type Hub struct {
	clients    map[Client]map[string]bool
	topics     map[string]map[Client]bool
	broadcast  chan message
	register   chan Client
	unregister chan Client
	subscribe  chan subscription
	quit       chan struct{}
	stopOnce   sync.Once
}

var _ port.Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]map[string]bool),
		topics:     make(map[string]map[Client]bool),
		broadcast:  make(chan message),
		register:   make(chan Client),
		unregister: make(chan Client),
		subscribe:  make(chan subscription),
		quit:       make(chan struct{}),
	}
}

// Broadcast publishes event on channel to every current subscriber.
func (h *Hub) Broadcast(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	msg := message{
		channel: channel,
		frame:   Frame{Type: FrameBroadcast, Channel: channel, Event: event, Payload: raw},
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client, channels := range h.clients {
				for ch := range channels {
					_ = client.Send(Frame{Type: FrameNotice, Channel: ch, Status: string(domain.SubscribeClosed)})
				}
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			log.Info().Str("client_id", client.ID()).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case sub := <-h.subscribe:
			h.apply(sub)
			close(sub.done)

		case msg := <-h.broadcast:
			for client := range h.topics[msg.channel] {
				if err := client.Send(msg.frame); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Str("channel", msg.channel).Msg("Error sending broadcast")
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) apply(sub subscription) {
	channels, ok := h.clients[sub.client]
	if !ok {
		return
	}
	if !sub.on {
		delete(channels, sub.channel)
		if subs := h.topics[sub.channel]; subs != nil {
			delete(subs, sub.client)
			if len(subs) == 0 {
				delete(h.topics, sub.channel)
			}
		}
		return
	}
	channels[sub.channel] = true
	if h.topics[sub.channel] == nil {
		h.topics[sub.channel] = make(map[Client]bool)
	}
	h.topics[sub.channel][sub.client] = true
}

func (h *Hub) drop(client Client) {
	for ch := range h.clients[client] {
		if subs := h.topics[ch]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, ch)
			}
		}
	}
	delete(h.clients, client)
	client.Close()
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Subscribe adds c to channel. When it returns, every later broadcast on
// channel reaches c.
func (h *Hub) Subscribe(c Client, channel string) error {
	return h.send(subscription{client: c, channel: channel, on: true})
}

func (h *Hub) Unsubscribe(c Client, channel string) error {
	return h.send(subscription{client: c, channel: channel})
}

func (h *Hub) send(sub subscription) error {
	sub.done = make(chan struct{})
	select {
	case h.subscribe <- sub:
	case <-h.quit:
		return ErrHubStopped
	}
	<-sub.done
	return nil
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
