package service

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher turns committed participant writes into realtime events. A new
// invited row rings the user; a status change is announced to the user and to
// everyone watching the meeting.
type Publisher struct {
	broadcaster port.Broadcaster
	log         zerolog.Logger
}

var _ port.ParticipantHook = (*Publisher)(nil)

func NewPublisher(b port.Broadcaster) *Publisher {
	return &Publisher{
		broadcaster: b,
		log:         log.With().Str("component", "publisher").Logger(),
	}
}

func (p *Publisher) ParticipantChanged(ctx context.Context, before *domain.Participant, after domain.Participant) {
	if before == nil {
		if after.Status == domain.StatusInvited {
			p.publish(ctx, domain.InvitationChannel(after.UserID), domain.EventCallInvitation, domain.InvitationEventOf(after))
		}
		return
	}
	if before.Status == after.Status {
		return
	}
	p.publish(ctx, domain.InvitationChannel(after.UserID), domain.EventCallInvitation, domain.InvitationEventOf(after))
	p.publish(ctx, domain.StatusChannel(after.MeetingID), domain.EventCallStatusUpdate, domain.StatusEventOf(after))
}

func (p *Publisher) publish(ctx context.Context, channel, event string, payload any) {
	if err := p.broadcaster.Broadcast(ctx, channel, event, payload); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("Broadcast failed")
		return
	}
	p.log.Debug().Str("channel", channel).Str("event", event).Msg("Broadcast")
}
