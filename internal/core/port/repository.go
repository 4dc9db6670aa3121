package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Store is the authoritative store as consumed by the signaling core.
type Store interface {
	GetMeeting(ctx context.Context, meeting domain.MeetingID) (domain.Meeting, error)
	ListMembers(ctx context.Context, org domain.OrganizationID) ([]domain.Member, error)
	ListInvited(ctx context.Context, user domain.UserID) ([]domain.Participant, error)
	GetParticipant(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID) (domain.Participant, error)
	FindParticipant(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error)
	Invite(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error)
	UpdateStatus(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID, status domain.ParticipantStatus) (domain.Participant, error)
	MarkMissed(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID) (domain.Participant, error)
}

// MeetingStore is the server's authoritative store: the client-facing Store
// plus the writes the API needs to set meetings up.
type MeetingStore interface {
	Store
	// CreateMeeting persists m and its host as an accepted participant.
	CreateMeeting(ctx context.Context, m domain.Meeting) (domain.Meeting, error)
	AddMember(ctx context.Context, m domain.Member) error
	IsMember(ctx context.Context, org domain.OrganizationID, user domain.UserID) (bool, error)
	// Leave stamps the user's accepted row in meeting as left.
	Leave(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error)
}
