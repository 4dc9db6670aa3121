package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry holds the meeting the local user is currently in, if any.
type Registry struct {
	conference port.Conference

	mu        sync.RWMutex
	current   domain.MeetingID
	inMeeting bool
	observers []func(domain.MeetingID, bool)

	log zerolog.Logger
}

func NewRegistry(conference port.Conference) *Registry {
	return &Registry{
		conference: conference,
		log:        log.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) Current() (domain.MeetingID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.inMeeting
}

func (r *Registry) InMeeting() bool {
	_, in := r.Current()
	return in
}

// OnChange registers fn to be called after every entry or exit.
func (r *Registry) OnChange(fn func(meeting domain.MeetingID, inMeeting bool)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Enter records meeting as current. Call it at the moment navigation happens.
func (r *Registry) Enter(meeting domain.MeetingID) {
	r.set(meeting, true)
	r.log.Info().Str("meeting_id", meeting.String()).Msg("Entered meeting")
}

// Exit clears the current meeting.
func (r *Registry) Exit() {
	prev, in := r.Current()
	if !in {
		return
	}
	r.set(domain.MeetingID{}, false)
	r.log.Info().Str("meeting_id", prev.String()).Msg("Left meeting")
}

func (r *Registry) set(meeting domain.MeetingID, in bool) {
	r.mu.Lock()
	r.current = meeting
	r.inMeeting = in
	observers := make([]func(domain.MeetingID, bool), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(meeting, in)
	}
}

// Join moves the local user into meeting, leaving any other meeting first.
// Joining the current meeting is a no-op.
func (r *Registry) Join(ctx context.Context, meeting domain.MeetingID) error {
	if prev, in := r.Current(); in {
		if prev == meeting {
			return nil
		}
		if err := r.Leave(ctx); err != nil {
			r.log.Warn().Err(err).Str("meeting_id", prev.String()).Msg("Leaving previous meeting failed")
		}
	}

	r.Enter(meeting)
	if r.conference == nil {
		return nil
	}
	if err := r.conference.Join(ctx, meeting); err != nil {
		r.Exit()
		return fmt.Errorf("join meeting %s: %w", meeting, err)
	}
	return nil
}

// Leave exits the current meeting, telling the conferencing engine.
func (r *Registry) Leave(ctx context.Context) error {
	prev, in := r.Current()
	if !in {
		return nil
	}
	r.Exit()
	if r.conference == nil {
		return nil
	}
	return r.conference.Leave(ctx, prev)
}
