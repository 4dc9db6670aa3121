package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID[T any](r *http.Request, key string, parse func(string) (T, error)) (T, error) {
	id, err := parse(chi.URLParam(r, key))
	if err != nil {
		return id, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return id, nil
}

// meetingFor loads the meeting in the path and checks the caller may see it.
func (h *Handler) meetingFor(r *http.Request) (domain.Meeting, domain.UserID, error) {
	user, _ := UserFrom(r.Context())
	id, err := pathID(r, "meetingID", domain.ParseMeetingID)
	if err != nil {
		return domain.Meeting{}, user, err
	}
	meeting, err := h.Store.GetMeeting(r.Context(), id)
	if err != nil {
		return domain.Meeting{}, user, err
	}
	ok, err := h.canView(r.Context(), meeting, user)
	if err != nil {
		return domain.Meeting{}, user, err
	}
	if !ok {
		return domain.Meeting{}, user, domain.ErrForbidden
	}
	return meeting, user, nil
}

type createMeetingRequest struct {
	OrganizationID domain.OrganizationID `json:"organization_id"`
	Title          string                `json:"title"`
	Type           domain.MeetingType    `json:"type"`
}

func (h *Handler) createMeeting(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req createMeetingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch req.Type {
	case "", domain.MeetingInstant, domain.MeetingScheduled:
	default:
		writeError(w, r, fmt.Errorf("%w: type %q", errBadRequest, req.Type))
		return
	}
	ok, err := h.Store.IsMember(r.Context(), req.OrganizationID, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrForbidden)
		return
	}

	meeting, err := h.Store.CreateMeeting(r.Context(), domain.Meeting{
		OrganizationID: req.OrganizationID,
		HostID:         user,
		Title:          req.Title,
		Type:           req.Type,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

func (h *Handler) getMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, _, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

type inviteRequest struct {
	UserID domain.UserID `json:"user_id"`
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if meeting.HostID != user {
		writeError(w, r, fmt.Errorf("%w: only the host can invite", domain.ErrForbidden))
		return
	}
	var req inviteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID.IsZero() {
		writeError(w, r, fmt.Errorf("%w: user_id is required", errBadRequest))
		return
	}

	p, err := h.Store.Invite(r.Context(), meeting.ID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) findParticipant(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := pathID(r, "userID", domain.ParseUserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if target != user && meeting.HostID != user {
		writeError(w, r, domain.ErrForbidden)
		return
	}

	p, err := h.Store.FindParticipant(r.Context(), meeting.ID, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) getParticipant(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.participantFor(r, meeting)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.UserID != user && meeting.HostID != user {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type statusRequest struct {
	Status domain.ParticipantStatus `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status != domain.StatusAccepted && req.Status != domain.StatusDeclined {
		writeError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, req.Status))
		return
	}
	p, err := h.participantFor(r, meeting)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The host may withdraw an invitation; only the invitee may answer it.
	self := p.UserID == user
	cancel := meeting.HostID == user && req.Status == domain.StatusDeclined
	if !self && !cancel {
		writeError(w, r, domain.ErrForbidden)
		return
	}

	updated, err := h.Store.UpdateStatus(r.Context(), meeting.ID, p.ID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) markMissed(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.participantFor(r, meeting)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.UserID != user && meeting.HostID != user {
		writeError(w, r, fmt.Errorf("%w: only the participant or the host can mark a call missed", domain.ErrForbidden))
		return
	}

	updated, err := h.Store.MarkMissed(r.Context(), meeting.ID, p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// leave records that the bearer exited the meeting session.
func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	meeting, user, err := h.meetingFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Store.Leave(r.Context(), meeting.ID, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) participantFor(r *http.Request, meeting domain.Meeting) (domain.Participant, error) {
	id, err := pathID(r, "participantID", domain.ParseParticipantID)
	if err != nil {
		return domain.Participant{}, err
	}
	return h.Store.GetParticipant(r.Context(), meeting.ID, id)
}

func (h *Handler) listInvited(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	rows, err := h.Store.ListInvited(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Participant{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	org, err := pathID(r, "orgID", domain.ParseOrganizationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.Store.IsMember(r.Context(), org, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrForbidden)
		return
	}

	members, err := h.Store.ListMembers(r.Context(), org)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []domain.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}
