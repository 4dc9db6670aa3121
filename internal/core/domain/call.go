package domain

import (
	"fmt"
	"time"
)

// ParticipantStatus is the invitation lifecycle of one user for one meeting.
// Values are part of the wire contract.
type ParticipantStatus string

const (
	StatusInvited  ParticipantStatus = "invited"
	StatusAccepted ParticipantStatus = "accepted"
	StatusDeclined ParticipantStatus = "declined"
	StatusMissed   ParticipantStatus = "missed"
)

func ParseParticipantStatus(s string) (ParticipantStatus, error) {
	status := ParticipantStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusInvited, StatusAccepted, StatusDeclined, StatusMissed:
		return true
	}
	return false
}

func (s ParticipantStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusMissed
}

// CanTransition reports whether a participant may move from one status to another.
// The only legal moves leave invited; terminal statuses never change.
func CanTransition(from, to ParticipantStatus) bool {
	return from == StatusInvited && to.IsTerminal()
}

type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

type Participant struct {
	ID        ParticipantID     `json:"id"`
	MeetingID MeetingID         `json:"meeting_id"`
	UserID    UserID            `json:"user_id"`
	Role      Role              `json:"role"`
	Status    ParticipantStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	JoinedAt  *time.Time        `json:"joined_at,omitempty"`
	LeftAt    *time.Time        `json:"left_at,omitempty"`
}

func NewParticipant(meetingID MeetingID, userID UserID, now time.Time) Participant {
	return Participant{
		ID:        NewParticipantID(),
		MeetingID: meetingID,
		UserID:    userID,
		Role:      RoleAttendee,
		Status:    StatusInvited,
		CreatedAt: now.UTC(),
	}
}

// Transition returns p moved to status, or ErrTerminalStatus when p already left invited.
func (p Participant) Transition(to ParticipantStatus, now time.Time) (Participant, error) {
	if !to.Valid() {
		return p, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if !CanTransition(p.Status, to) {
		return p, fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, p.Status, to)
	}
	p.Status = to
	if to == StatusAccepted {
		joined := now.UTC()
		p.JoinedAt = &joined
	}
	return p, nil
}

// Leave records that an accepted participant exited the session. Leaving
// twice keeps the first time; rows that never joined cannot leave.
func (p Participant) Leave(now time.Time) (Participant, error) {
	if p.Status != StatusAccepted {
		return p, fmt.Errorf("%w: %s participant cannot leave", ErrInvalidStatus, p.Status)
	}
	if p.LeftAt != nil {
		return p, nil
	}
	left := now.UTC()
	p.LeftAt = &left
	return p, nil
}
