package http

import (
	"net/http"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TokenVerifier resolves a bearer token to the user it was issued to.
type TokenVerifier interface {
	Verify(token string) (domain.UserID, error)
}

type Handler struct {
	Store    port.MeetingStore
	Hub      *ws.Hub
	Verifier TokenVerifier
}

func NewHandler(store port.MeetingStore, hub *ws.Hub, verifier TokenVerifier) *Handler {
	return &Handler{
		Store:    store,
		Hub:      hub,
		Verifier: verifier,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/realtime", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/meetings", h.createMeeting)
		r.Route("/meetings/{meetingID}", func(r chi.Router) {
			r.Get("/", h.getMeeting)
			r.Post("/invite", h.invite)
			r.Post("/leave", h.leave)
			r.Get("/participants/by-user/{userID}", h.findParticipant)
			r.Get("/participants/{participantID}", h.getParticipant)
			r.Patch("/participants/{participantID}/status", h.updateStatus)
			r.Post("/participants/{participantID}/missed", h.markMissed)
		})
		r.Get("/participants/invited", h.listInvited)
		r.Get("/organizations/{orgID}/members", h.listMembers)
	})

	return r
}
