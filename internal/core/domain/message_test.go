package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInvitation(t *testing.T) {
	pid, mid, uid := NewParticipantID(), NewMeetingID(), NewUserID()
	payload := `{"participant_id":"` + pid.String() + `","meeting_id":"` + mid.String() +
		`","user_id":"` + uid.String() + `","status":"invited","extra":1}`

	ev := Decode("user:x:calls", EventCallInvitation, []byte(payload))

	require.Equal(t, KindInvitation, ev.Kind)
	assert.Equal(t, "user:x:calls", ev.Channel)
	assert.Equal(t, CallInvitationEvent{ParticipantID: pid, MeetingID: mid, UserID: uid, Status: StatusInvited}, ev.Invitation)
	assert.Nil(t, ev.Err)
}

func TestDecodeStatusUpdateWithoutUser(t *testing.T) {
	pid := NewParticipantID()

	ev := Decode("meeting:x:status", EventCallStatusUpdate,
		[]byte(`{"participant_id":"`+pid.String()+`","user_id":null,"status":"declined"}`))

	require.Equal(t, KindStatusUpdate, ev.Kind)
	assert.Equal(t, pid, ev.StatusUpdate.ParticipantID)
	assert.True(t, ev.StatusUpdate.UserID.IsZero())
	assert.Equal(t, StatusDeclined, ev.StatusUpdate.Status)
}

func TestDecodeMalformed(t *testing.T) {
	pid, mid, uid := NewParticipantID().String(), NewMeetingID().String(), NewUserID().String()

	tests := []struct {
		name    string
		event   string
		payload string
		field   string
	}{
		{"not json", EventCallInvitation, `{`, ""},
		{"unknown event", "presence", `{}`, ""},
		{"missing participant", EventCallInvitation, `{"meeting_id":"` + mid + `","user_id":"` + uid + `","status":"invited"}`, "participant_id"},
		{"bad meeting id", EventCallInvitation, `{"participant_id":"` + pid + `","meeting_id":"nope","user_id":"` + uid + `","status":"invited"}`, "meeting_id"},
		{"missing user", EventCallInvitation, `{"participant_id":"` + pid + `","meeting_id":"` + mid + `","status":"invited"}`, "user_id"},
		{"unknown status", EventCallInvitation, `{"participant_id":"` + pid + `","meeting_id":"` + mid + `","user_id":"` + uid + `","status":"ringing"}`, "status"},
		{"status update without status", EventCallStatusUpdate, `{"participant_id":"` + pid + `"}`, "status"},
		{"status update bad user", EventCallStatusUpdate, `{"participant_id":"` + pid + `","user_id":"x","status":"accepted"}`, "user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Decode("ch", tt.event, []byte(tt.payload))
			require.Equal(t, KindMalformed, ev.Kind)
			require.NotNil(t, ev.Err)
			assert.Equal(t, tt.field, ev.Err.Field)
			assert.Equal(t, tt.event, ev.Err.Event)
		})
	}
}
