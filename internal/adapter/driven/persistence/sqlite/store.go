package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/sqlite/migrations"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/platform/storage/sqlitemigrate"
	"github.com/benbjohnson/clock"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed authoritative store of meetings and participants.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	hook  port.ParticipantHook
}

var _ port.MeetingStore = (*Store)(nil)

type Option func(*Store)

// WithHook registers h to observe every committed participant write.
func WithHook(h port.ParticipantHook) Option {
	return func(s *Store) { s.hook = h }
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the store at path and applies pending migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeys(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureForeignKeys(ctx context.Context, db *sql.DB) error {
	var enabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return errors.New("sqlite foreign keys are disabled")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const participantColumns = `id, meeting_id, user_id, role, status, created_at, joined_at, left_at`

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		id, meeting, user, role, status string
		created                         int64
		joined, left                    sql.NullInt64
	)
	if err := row.Scan(&id, &meeting, &user, &role, &status, &created, &joined, &left); err != nil {
		return domain.Participant{}, err
	}

	var (
		p   domain.Participant
		err error
	)
	if p.ID, err = domain.ParseParticipantID(id); err != nil {
		return p, fmt.Errorf("participant id: %w", err)
	}
	if p.MeetingID, err = domain.ParseMeetingID(meeting); err != nil {
		return p, fmt.Errorf("participant meeting id: %w", err)
	}
	if p.UserID, err = domain.ParseUserID(user); err != nil {
		return p, fmt.Errorf("participant user id: %w", err)
	}
	if p.Status, err = domain.ParseParticipantStatus(status); err != nil {
		return p, err
	}
	p.Role = domain.Role(role)
	p.CreatedAt = fromMillis(created)
	if joined.Valid {
		t := fromMillis(joined.Int64)
		p.JoinedAt = &t
	}
	if left.Valid {
		t := fromMillis(left.Int64)
		p.LeftAt = &t
	}
	return p, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertParticipant(ctx context.Context, db execer, p domain.Participant) (bool, error) {
	res, err := db.ExecContext(ctx, `
INSERT INTO meeting_participants (`+participantColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (meeting_id, user_id) DO NOTHING`,
		p.ID.String(), p.MeetingID.String(), p.UserID.String(), string(p.Role), string(p.Status),
		toMillis(p.CreatedAt), nullMillis(p.JoinedAt), nullMillis(p.LeftAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	return n == 1, nil
}

func (s *Store) CreateMeeting(ctx context.Context, m domain.Meeting) (domain.Meeting, error) {
	now := s.clock.Now()
	if m.ID.IsZero() {
		m.ID = domain.NewMeetingID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	if m.Type == "" {
		m.Type = domain.MeetingInstant
	}
	if m.RoomName == "" {
		m.RoomName = "meeting-" + m.ID.String()
	}

	host := domain.NewParticipant(m.ID, m.HostID, now)
	host.Role = domain.RoleHost
	host, _ = host.Transition(domain.StatusAccepted, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Meeting{}, fmt.Errorf("begin create meeting: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO meetings (id, organization_id, host_id, title, room_name, type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.OrganizationID.String(), m.HostID.String(), m.Title, m.RoomName,
		string(m.Type), toMillis(m.CreatedAt),
	); err != nil {
		return domain.Meeting{}, fmt.Errorf("insert meeting: %w", err)
	}
	if _, err := insertParticipant(ctx, tx, host); err != nil {
		return domain.Meeting{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Meeting{}, fmt.Errorf("commit create meeting: %w", err)
	}
	return m, nil
}

func (s *Store) AddMember(ctx context.Context, m domain.Member) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO organization_members (organization_id, user_id, display_name, email)
VALUES (?, ?, ?, ?)
ON CONFLICT (organization_id, user_id) DO UPDATE SET
    display_name = excluded.display_name,
    email = excluded.email`,
		m.OrganizationID.String(), m.UserID.String(), m.DisplayName, m.Email,
	)
	if err != nil {
		return fmt.Errorf("put member: %w", err)
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, org domain.OrganizationID, user domain.UserID) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM organization_members WHERE organization_id = ? AND user_id = ?`,
		org.String(), user.String(),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return true, nil
}

func (s *Store) GetMeeting(ctx context.Context, id domain.MeetingID) (domain.Meeting, error) {
	var (
		m                                 domain.Meeting
		mid, org, host, title, room, kind string
		created                           int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, organization_id, host_id, title, room_name, type, created_at
FROM meetings WHERE id = ?`, id.String(),
	).Scan(&mid, &org, &host, &title, &room, &kind, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("meeting %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("get meeting: %w", err)
	}

	if m.ID, err = domain.ParseMeetingID(mid); err != nil {
		return m, fmt.Errorf("meeting id: %w", err)
	}
	if m.OrganizationID, err = domain.ParseOrganizationID(org); err != nil {
		return m, fmt.Errorf("meeting organization id: %w", err)
	}
	if m.HostID, err = domain.ParseUserID(host); err != nil {
		return m, fmt.Errorf("meeting host id: %w", err)
	}
	m.Title = title
	m.RoomName = room
	m.Type = domain.MeetingType(kind)
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, org domain.OrganizationID) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, display_name, email FROM organization_members
WHERE organization_id = ? ORDER BY display_name, user_id`, org.String())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var user, name, email string
		if err := rows.Scan(&user, &name, &email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		id, err := domain.ParseUserID(user)
		if err != nil {
			return nil, fmt.Errorf("member user id: %w", err)
		}
		out = append(out, domain.Member{UserID: id, OrganizationID: org, DisplayName: name, Email: email})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (s *Store) ListInvited(ctx context.Context, user domain.UserID) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+participantColumns+` FROM meeting_participants
WHERE user_id = ? AND status = 'invited' ORDER BY created_at`, user.String())
	if err != nil {
		return nil, fmt.Errorf("list invited: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invited: %w", err)
	}
	return out, nil
}

func (s *Store) GetParticipant(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID) (domain.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
SELECT `+participantColumns+` FROM meeting_participants
WHERE id = ? AND meeting_id = ?`, id.String(), meeting.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *Store) FindParticipant(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
SELECT `+participantColumns+` FROM meeting_participants
WHERE meeting_id = ? AND user_id = ?`, meeting.String(), user.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("participant for user %s: %w", user, domain.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("find participant: %w", err)
	}
	return p, nil
}

// Invite returns the user's existing row in meeting, or creates an invited one.
func (s *Store) Invite(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	if _, err := s.GetMeeting(ctx, meeting); err != nil {
		return domain.Participant{}, err
	}
	p := domain.NewParticipant(meeting, user, s.clock.Now())
	created, err := insertParticipant(ctx, s.db, p)
	if err != nil {
		return domain.Participant{}, err
	}
	if !created {
		return s.FindParticipant(ctx, meeting, user)
	}
	s.notify(ctx, nil, p)
	return p, nil
}

// UpdateStatus moves an invited participant to status. The write only lands
// while the row is still invited; a concurrent terminal writer wins.
func (s *Store) UpdateStatus(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID, status domain.ParticipantStatus) (domain.Participant, error) {
	before, err := s.GetParticipant(ctx, meeting, id)
	if err != nil {
		return domain.Participant{}, err
	}
	after, err := before.Transition(status, s.clock.Now())
	if err != nil {
		return before, err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE meeting_participants SET status = ?, joined_at = ?
WHERE id = ? AND meeting_id = ? AND status = 'invited'`,
		string(after.Status), nullMillis(after.JoinedAt), id.String(), meeting.String(),
	)
	if err != nil {
		return before, fmt.Errorf("update participant status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return before, fmt.Errorf("update participant status: %w", err)
	}
	if n == 0 {
		current, gerr := s.GetParticipant(ctx, meeting, id)
		if gerr != nil {
			return before, gerr
		}
		return current, fmt.Errorf("%w: %s -> %s", domain.ErrTerminalStatus, current.Status, status)
	}

	s.notify(ctx, &before, after)
	return after, nil
}

func (s *Store) MarkMissed(ctx context.Context, meeting domain.MeetingID, id domain.ParticipantID) (domain.Participant, error) {
	return s.UpdateStatus(ctx, meeting, id, domain.StatusMissed)
}

// Leave stamps left_at once on the user's accepted row.
func (s *Store) Leave(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	p, err := s.FindParticipant(ctx, meeting, user)
	if err != nil {
		return p, err
	}
	left, err := p.Leave(s.clock.Now())
	if err != nil || p.LeftAt != nil {
		return left, err
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE meeting_participants SET left_at = ?
WHERE id = ? AND status = 'accepted' AND left_at IS NULL`,
		nullMillis(left.LeftAt), p.ID.String(),
	); err != nil {
		return p, fmt.Errorf("leave meeting: %w", err)
	}
	return s.GetParticipant(ctx, meeting, p.ID)
}

func (s *Store) notify(ctx context.Context, before *domain.Participant, after domain.Participant) {
	if s.hook != nil {
		s.hook.ParticipantChanged(ctx, before, after)
	}
}
