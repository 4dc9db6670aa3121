package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type InboundKind int

const (
	InboundBroadcast InboundKind = iota
	InboundNotice
	InboundDisconnected
	InboundReconnected
)

// Inbound is one thing the transport tells its owner: a broadcast on a
// subscribed channel, a status notice about a channel, or a connection change.
type Inbound struct {
	Kind    InboundKind
	Channel string
	Event   string
	Payload []byte
	Status  domain.SubscribeStatus
	Err     error
}

// Transport is a single authorization-scoped broadcast connection.
//
// Subscribe returns SubscribeOK with a nil error, or the failing status with an
// error; an authorization cause is reported as a *domain.AuthorizationError.
type Transport interface {
	Authenticate(ctx context.Context, token string) error
	Subscribe(ctx context.Context, channel string, private bool) (domain.SubscribeStatus, error)
	Unsubscribe(ctx context.Context, channel string) error
	Inbound() <-chan Inbound
	Close() error
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never rotates.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
