package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type MeetingID uuid.UUID
type ParticipantID uuid.UUID
type OrganizationID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New())
}

func NewMeetingID() MeetingID {
	return MeetingID(uuid.New())
}

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New())
}

func NewOrganizationID() OrganizationID {
	return OrganizationID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	return parseID[UserID](s)
}

func ParseMeetingID(s string) (MeetingID, error) {
	return parseID[MeetingID](s)
}

func ParseParticipantID(s string) (ParticipantID, error) {
	return parseID[ParticipantID](s)
}

func ParseOrganizationID(s string) (OrganizationID, error) {
	return parseID[OrganizationID](s)
}

func parseID[T ~[16]byte](s string) (T, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return T{}, err
	}
	return T(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id MeetingID) String() string {
	return uuid.UUID(id).String()
}

func (id ParticipantID) String() string {
	return uuid.UUID(id).String()
}

func (id OrganizationID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) IsZero() bool        { return id == UserID{} }
func (id MeetingID) IsZero() bool     { return id == MeetingID{} }
func (id ParticipantID) IsZero() bool { return id == ParticipantID{} }

// Text (un)marshalling lets ids travel as plain uuid strings in JSON payloads.

func (id UserID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id MeetingID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ParticipantID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id OrganizationID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *UserID) UnmarshalText(b []byte) error        { return unmarshalID(id, b) }
func (id *MeetingID) UnmarshalText(b []byte) error     { return unmarshalID(id, b) }
func (id *ParticipantID) UnmarshalText(b []byte) error { return unmarshalID(id, b) }
func (id *OrganizationID) UnmarshalText(b []byte) error {
	return unmarshalID(id, b)
}

func unmarshalID[T ~[16]byte](dst *T, b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*dst = T(parsed)
	return nil
}
