package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/benbjohnson/clock"
)

// Store implements port.MeetingStore in memory.
type Store struct {
	clock clock.Clock
	hook  port.ParticipantHook

	mu           sync.Mutex
	meetings     map[domain.MeetingID]domain.Meeting
	participants map[domain.ParticipantID]domain.Participant
	members      map[domain.OrganizationID][]domain.Member
}

var _ port.MeetingStore = (*Store)(nil)

// NewStore returns an empty store. hook may be nil.
func NewStore(clk clock.Clock, hook port.ParticipantHook) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		clock:        clk,
		hook:         hook,
		meetings:     make(map[domain.MeetingID]domain.Meeting),
		participants: make(map[domain.ParticipantID]domain.Participant),
		members:      make(map[domain.OrganizationID][]domain.Member),
	}
}

func (s *Store) CreateMeeting(ctx context.Context, m domain.Meeting) (domain.Meeting, error) {
	if m.ID.IsZero() {
		m.ID = domain.NewMeetingID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now().UTC()
	}
	if m.Type == "" {
		m.Type = domain.MeetingInstant
	}
	if m.RoomName == "" {
		m.RoomName = "meeting-" + m.ID.String()
	}
	now := s.clock.Now()
	host := domain.NewParticipant(m.ID, m.HostID, now)
	host.Role = domain.RoleHost
	host, _ = host.Transition(domain.StatusAccepted, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; ok {
		return domain.Meeting{}, fmt.Errorf("meeting %s already exists", m.ID)
	}
	s.meetings[m.ID] = m
	s.participants[host.ID] = host
	return m, nil
}

func (s *Store) AddMember(ctx context.Context, m domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.members[m.OrganizationID]
	for i, existing := range list {
		if existing.UserID == m.UserID {
			list[i] = m
			return nil
		}
	}
	s.members[m.OrganizationID] = append(list, m)
	return nil
}

func (s *Store) IsMember(ctx context.Context, org domain.OrganizationID, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[org] {
		if m.UserID == user {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetMeeting(ctx context.Context, id domain.MeetingID) (domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return domain.Meeting{}, fmt.Errorf("meeting %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, org domain.OrganizationID) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Member, len(s.members[org]))
	copy(out, s.members[org])
	return out, nil
}

func (s *Store) ListInvited(ctx context.Context, user domain.UserID) ([]domain.Participant, error) {
	s.mu.Lock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.UserID == user && p.Status == domain.StatusInvited {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetParticipant(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok || p.MeetingID != meeting {
		return domain.Participant{}, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.find(meeting, user); ok {
		return p, nil
	}
	return domain.Participant{}, fmt.Errorf("participant for user %s: %w", user, domain.ErrNotFound)
}

func (s *Store) find(meeting domain.MeetingID, user domain.UserID) (domain.Participant, bool) {
	for _, p := range s.participants {
		if p.MeetingID == meeting && p.UserID == user {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// Invite returns the user's existing row in meeting, or creates an invited one.
func (s *Store) Invite(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	s.mu.Lock()
	if _, ok := s.meetings[meeting]; !ok {
		s.mu.Unlock()
		return domain.Participant{}, fmt.Errorf("meeting %s: %w", meeting, domain.ErrNotFound)
	}
	if p, ok := s.find(meeting, user); ok {
		s.mu.Unlock()
		return p, nil
	}
	p := domain.NewParticipant(meeting, user, s.clock.Now())
	s.participants[p.ID] = p
	s.mu.Unlock()

	s.notify(ctx, nil, p)
	return p, nil
}

func (s *Store) UpdateStatus(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID, status domain.ParticipantStatus) (domain.Participant, error) {
	s.mu.Lock()
	before, ok := s.participants[id]
	if !ok || before.MeetingID != meeting {
		s.mu.Unlock()
		return domain.Participant{}, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	after, err := before.Transition(status, s.clock.Now())
	if err != nil {
		s.mu.Unlock()
		return before, err
	}
	s.participants[id] = after
	s.mu.Unlock()

	s.notify(ctx, &before, after)
	return after, nil
}

func (s *Store) MarkMissed(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID) (domain.Participant, error) {
	return s.UpdateStatus(ctx, meeting, id, domain.StatusMissed)
}

func (s *Store) Leave(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.find(meeting, user)
	if !ok {
		return domain.Participant{}, fmt.Errorf("participant for user %s: %w", user, domain.ErrNotFound)
	}
	left, err := p.Leave(s.clock.Now())
	if err != nil {
		return p, err
	}
	s.participants[p.ID] = left
	return left, nil
}

func (s *Store) notify(ctx context.Context, before *domain.Participant, after domain.Participant) {
	if s.hook != nil {
		s.hook.ParticipantChanged(ctx, before, after)
	}
}
