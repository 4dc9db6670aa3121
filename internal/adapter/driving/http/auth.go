package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ctxKey struct{}

func withUser(ctx context.Context, user domain.UserID) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the authenticated user of a request that passed the bearer middleware.
func UserFrom(ctx context.Context) (domain.UserID, bool) {
	user, ok := ctx.Value(ctxKey{}).(domain.UserID)
	return user, ok
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		user, err := h.Verifier.Verify(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// canView reports whether user may see meeting: its host or any participant.
func (h *Handler) canView(ctx context.Context, meeting domain.Meeting, user domain.UserID) (bool, error) {
	if meeting.HostID == user {
		return true, nil
	}
	_, err := h.Store.FindParticipant(ctx, meeting.ID, user)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// authorizeChannel decides whether user may open a private subscription to channel.
func (h *Handler) authorizeChannel(ctx context.Context, user domain.UserID, channel string) error {
	ref, err := domain.ParseChannel(channel)
	if err != nil {
		return err
	}
	switch ref.Kind {
	case domain.ChannelInvitations:
		if ref.UserID != user {
			return domain.ErrForbidden
		}
		return nil
	case domain.ChannelMeetingStatus:
		meeting, err := h.Store.GetMeeting(ctx, ref.MeetingID)
		if err != nil {
			if isNotFound(err) {
				return domain.ErrForbidden
			}
			return err
		}
		ok, err := h.canView(ctx, meeting, user)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrForbidden
		}
		return nil
	}
	return domain.ErrForbidden
}
