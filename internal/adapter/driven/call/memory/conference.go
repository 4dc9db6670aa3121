package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Conference stands in for the external conferencing engine: it records which
// meeting the local user's media is attached to.
type Conference struct {
	mu      sync.Mutex
	current domain.MeetingID
	joined  bool
	joins   int
}

var _ port.Conference = (*Conference)(nil)

func NewConference() *Conference {
	return &Conference{}
}

func (c *Conference) Join(ctx context.Context, meeting domain.MeetingID) error {
	c.mu.Lock()
	c.current = meeting
	c.joined = true
	c.joins++
	c.mu.Unlock()
	log.Info().Str("meeting_id", meeting.String()).Msg("Conference joined")
	return nil
}

func (c *Conference) Leave(ctx context.Context, meeting domain.MeetingID) error {
	c.mu.Lock()
	if c.joined && c.current == meeting {
		c.joined = false
	}
	c.mu.Unlock()
	log.Info().Str("meeting_id", meeting.String()).Msg("Conference left")
	return nil
}

func (c *Conference) Current() (domain.MeetingID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.joined
}

func (c *Conference) Joins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joins
}

// Ringer is a silent ringtone that tracks whether it is playing.
type Ringer struct {
	mu      sync.Mutex
	ringing bool
	starts  int
	stops   int
}

var _ port.Ringer = (*Ringer)(nil)

func NewRinger() *Ringer {
	return &Ringer{}
}

func (r *Ringer) Start() {
	r.mu.Lock()
	r.ringing = true
	r.starts++
	r.mu.Unlock()
	log.Debug().Msg("Ringtone started")
}

func (r *Ringer) Stop() {
	r.mu.Lock()
	r.ringing = false
	r.stops++
	r.mu.Unlock()
	log.Debug().Msg("Ringtone stopped")
}

func (r *Ringer) Ringing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ringing
}

// Counts returns how many times the ringtone was started and stopped.
func (r *Ringer) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}
