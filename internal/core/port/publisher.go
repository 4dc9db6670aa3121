package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Broadcaster publishes one event on a realtime channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, payload any) error
}

// ParticipantHook observes committed participant writes. before is nil when
// the row was just created.
type ParticipantHook interface {
	ParticipantChanged(ctx context.Context, before *domain.Participant, after domain.Participant)
}
