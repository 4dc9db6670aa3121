package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Conference is the external conferencing engine that carries the media.
type Conference interface {
	Join(ctx context.Context, meeting domain.MeetingID) error
	Leave(ctx context.Context, meeting domain.MeetingID) error
}

// Ringer is the audible side effect of a ringing invitation.
type Ringer interface {
	Start()
	Stop()
}
