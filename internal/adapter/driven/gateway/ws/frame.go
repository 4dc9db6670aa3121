package ws

import "encoding/json"

// Frame types on the realtime wire.
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameReply       = "reply"
	FrameBroadcast   = "broadcast"
	FrameNotice      = "notice"
)

// Reply statuses for auth and unsubscribe frames. Subscribe replies carry a
// domain.SubscribeStatus instead.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply reasons.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonForbidden    = "forbidden"
	ReasonBadRequest   = "bad_request"
)

// Frame is one JSON message in either direction. Fields unused by a frame
// type are omitted.
type Frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Token   string          `json:"token,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Private bool            `json:"private,omitempty"`
	Status  string          `json:"status,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Reply(ref, status, reason string) Frame {
	return Frame{Type: FrameReply, Ref: ref, Status: status, Reason: reason}
}
