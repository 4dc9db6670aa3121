package domain

import (
	"encoding/json"
)

type CallInvitationEvent struct {
	ParticipantID ParticipantID     `json:"participant_id"`
	MeetingID     MeetingID         `json:"meeting_id"`
	UserID        UserID            `json:"user_id"`
	Status        ParticipantStatus `json:"status"`
}

type CallStatusEvent struct {
	ParticipantID ParticipantID     `json:"participant_id"`
	UserID        UserID            `json:"user_id"`
	Status        ParticipantStatus `json:"status"`
}

func InvitationEventOf(p Participant) CallInvitationEvent {
	return CallInvitationEvent{
		ParticipantID: p.ID,
		MeetingID:     p.MeetingID,
		UserID:        p.UserID,
		Status:        p.Status,
	}
}

func StatusEventOf(p Participant) CallStatusEvent {
	return CallStatusEvent{
		ParticipantID: p.ID,
		UserID:        p.UserID,
		Status:        p.Status,
	}
}

type EventKind int

const (
	KindMalformed EventKind = iota
	KindInvitation
	KindStatusUpdate
)

func (k EventKind) String() string {
	switch k {
	case KindInvitation:
		return "invitation"
	case KindStatusUpdate:
		return "status_update"
	default:
		return "malformed"
	}
}

// Event is a transport payload validated at the boundary. Exactly one of
// Invitation, StatusUpdate or Err is meaningful, selected by Kind.
type Event struct {
	Kind         EventKind
	Channel      string
	Invitation   CallInvitationEvent
	StatusUpdate CallStatusEvent
	Err          *DataShapeError
}

type rawEvent struct {
	ParticipantID *string `json:"participant_id"`
	MeetingID     *string `json:"meeting_id"`
	UserID        *string `json:"user_id"`
	Status        *string `json:"status"`
}

// Decode validates a broadcast into the Event union. It never fails: anything it
// cannot trust comes back as KindMalformed with a DataShapeError.
func Decode(channel, event string, payload []byte) Event {
	malformed := func(field, reason string) Event {
		return Event{
			Kind:    KindMalformed,
			Channel: channel,
			Err:     &DataShapeError{Event: event, Field: field, Reason: reason},
		}
	}

	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return malformed("", err.Error())
	}

	switch event {
	case EventCallInvitation:
		var ev CallInvitationEvent
		if err := requireID(raw.ParticipantID, &ev.ParticipantID); err != "" {
			return malformed("participant_id", err)
		}
		if err := requireID(raw.MeetingID, &ev.MeetingID); err != "" {
			return malformed("meeting_id", err)
		}
		if err := requireID(raw.UserID, &ev.UserID); err != "" {
			return malformed("user_id", err)
		}
		status, err := requireStatus(raw.Status)
		if err != "" {
			return malformed("status", err)
		}
		ev.Status = status
		return Event{Kind: KindInvitation, Channel: channel, Invitation: ev}

	case EventCallStatusUpdate:
		var ev CallStatusEvent
		if err := requireID(raw.ParticipantID, &ev.ParticipantID); err != "" {
			return malformed("participant_id", err)
		}
		// user_id is null for participants invited by email.
		if raw.UserID != nil && *raw.UserID != "" {
			if err := requireID(raw.UserID, &ev.UserID); err != "" {
				return malformed("user_id", err)
			}
		}
		status, err := requireStatus(raw.Status)
		if err != "" {
			return malformed("status", err)
		}
		ev.Status = status
		return Event{Kind: KindStatusUpdate, Channel: channel, StatusUpdate: ev}
	}

	return malformed("", "unknown event")
}

func requireID[T ~[16]byte](raw *string, dst *T) string {
	if raw == nil || *raw == "" {
		return "missing"
	}
	id, err := parseID[T](*raw)
	if err != nil {
		return err.Error()
	}
	*dst = id
	return ""
}

func requireStatus(raw *string) (ParticipantStatus, string) {
	if raw == nil || *raw == "" {
		return "", "missing"
	}
	status, err := ParseParticipantStatus(*raw)
	if err != nil {
		return "", err.Error()
	}
	return status, ""
}
