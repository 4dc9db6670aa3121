package domain

import (
	"fmt"
	"strings"
)

const (
	EventCallInvitation   = "call_invitation"
	EventCallStatusUpdate = "call_status_update"
)

// InvitationChannel is the private per-user channel carrying call_invitation events.
func InvitationChannel(user UserID) string {
	return "user:" + user.String() + ":calls"
}

// StatusChannel is the private per-meeting channel carrying call_status_update events.
func StatusChannel(meeting MeetingID) string {
	return "meeting:" + meeting.String() + ":status"
}

type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelInvitations
	ChannelMeetingStatus
)

type ChannelRef struct {
	Kind      ChannelKind
	UserID    UserID
	MeetingID MeetingID
}

func ParseChannel(name string) (ChannelRef, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 3 {
		return ChannelRef{}, fmt.Errorf("unknown channel %q", name)
	}
	switch {
	case parts[0] == "user" && parts[2] == "calls":
		id, err := ParseUserID(parts[1])
		if err != nil {
			return ChannelRef{}, fmt.Errorf("channel %q: %w", name, err)
		}
		return ChannelRef{Kind: ChannelInvitations, UserID: id}, nil
	case parts[0] == "meeting" && parts[2] == "status":
		id, err := ParseMeetingID(parts[1])
		if err != nil {
			return ChannelRef{}, fmt.Errorf("channel %q: %w", name, err)
		}
		return ChannelRef{Kind: ChannelMeetingStatus, MeetingID: id}, nil
	}
	return ChannelRef{}, fmt.Errorf("unknown channel %q", name)
}

// SubscribeStatus is the transport's answer to a subscribe request, or a later
// notice about an open subscription.
type SubscribeStatus string

const (
	SubscribeOK           SubscribeStatus = "SUBSCRIBED"
	SubscribeChannelError SubscribeStatus = "CHANNEL_ERROR"
	SubscribeTimedOut     SubscribeStatus = "TIMED_OUT"
	SubscribeClosed       SubscribeStatus = "CLOSED"
)
