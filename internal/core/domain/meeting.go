package domain

import "time"

type MeetingType string

const (
	MeetingInstant   MeetingType = "instant"
	MeetingScheduled MeetingType = "scheduled"
)

type Meeting struct {
	ID             MeetingID      `json:"id"`
	OrganizationID OrganizationID `json:"organization_id"`
	HostID         UserID         `json:"host_id"`
	Title          string         `json:"title"`
	RoomName       string         `json:"room_name"`
	Type           MeetingType    `json:"type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Member is an organization member, used to resolve display names.
type Member struct {
	UserID         UserID         `json:"user_id"`
	OrganizationID OrganizationID `json:"organization_id"`
	DisplayName    string         `json:"display_name"`
	Email          string         `json:"email"`
}

// DisplayNameOf returns the display name of user among members, or fallback.
func DisplayNameOf(members []Member, user UserID, fallback string) string {
	for _, m := range members {
		if m.UserID == user {
			if m.DisplayName != "" {
				return m.DisplayName
			}
			if m.Email != "" {
				return m.Email
			}
		}
	}
	return fallback
}
