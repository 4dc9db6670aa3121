package service

import (
	"sort"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/benbjohnson/clock"
)

const (
	DefaultRetention         = 10 * time.Minute
	DefaultProcessedCapacity = 512
)

type processedEntry struct {
	resolved   bool
	resolvedAt time.Time
}

// ProcessedSet remembers which invitations were already surfaced so that
// redeliveries and bootstrap rows for them are ignored. An entry is kept
// forever while its invitation is unresolved and for the retention window
// after it resolves.
type ProcessedSet struct {
	mu        sync.Mutex
	clock     clock.Clock
	retention time.Duration
	capacity  int
	entries   map[domain.ParticipantID]processedEntry
}

func NewProcessedSet(clk clock.Clock, retention time.Duration, capacity int) *ProcessedSet {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}
	return &ProcessedSet{
		clock:     clk,
		retention: retention,
		capacity:  capacity,
		entries:   make(map[domain.ParticipantID]processedEntry),
	}
}

func (s *ProcessedSet) Seen(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	_, ok := s.entries[id]
	return ok
}

// Mark adds id and reports whether it was new.
func (s *ProcessedSet) Mark(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = processedEntry{}
	s.evict()
	return true
}

// Resolve starts the retention window of id.
func (s *ProcessedSet) Resolve(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.resolved {
		return
	}
	s.entries[id] = processedEntry{resolved: true, resolvedAt: s.clock.Now()}
}

func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.entries)
}

func (s *ProcessedSet) prune() {
	now := s.clock.Now()
	for id, e := range s.entries {
		if e.resolved && now.Sub(e.resolvedAt) >= s.retention {
			delete(s.entries, id)
		}
	}
}

// evict drops the oldest resolved entries above capacity. Unresolved entries
// are never evicted.
func (s *ProcessedSet) evict() {
	over := len(s.entries) - s.capacity
	if over <= 0 {
		return
	}
	type aged struct {
		id domain.ParticipantID
		at time.Time
	}
	var resolved []aged
	for id, e := range s.entries {
		if e.resolved {
			resolved = append(resolved, aged{id: id, at: e.resolvedAt})
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].at.Before(resolved[j].at) })
	for i := 0; i < over && i < len(resolved); i++ {
		delete(s.entries, resolved[i].id)
	}
}
