// Package api consumes the authoritative store over the HTTP API with the
// user's bearer credential.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout = 10 * time.Second
	readTries      = 3
	readInterval   = 200 * time.Millisecond
)

type Client struct {
	base   string
	tokens port.TokenSource
	http   *http.Client
}

var _ port.Store = (*Client)(nil)

// NewClient returns a Client for the API rooted at baseURL. httpClient may be nil.
func NewClient(baseURL string, tokens port.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		tokens: tokens,
		http:   httpClient,
	}
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// sentinelFor maps an API status code back onto the domain error it stands for.
func sentinelFor(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrTerminalStatus
	case http.StatusBadRequest:
		return domain.ErrInvalidStatus
	default:
		return domain.ErrUnavailable
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiError
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return fmt.Errorf("%s %s: %w: %s", method, path, sentinelFor(resp.StatusCode), msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// get is do for idempotent reads: transient failures are retried a few times.
func (c *Client) get(ctx context.Context, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = readInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(readTries))
	return err
}

func meetingPath(meeting domain.MeetingID, rest ...string) string {
	p := "/api/meetings/" + url.PathEscape(meeting.String())
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) GetMeeting(ctx context.Context, meeting domain.MeetingID) (domain.Meeting, error) {
	var m domain.Meeting
	err := c.get(ctx, meetingPath(meeting), &m)
	return m, err
}

func (c *Client) ListMembers(ctx context.Context, org domain.OrganizationID) ([]domain.Member, error) {
	var out []domain.Member
	err := c.get(ctx, "/api/organizations/"+url.PathEscape(org.String())+"/members", &out)
	return out, err
}

func (c *Client) ListInvited(ctx context.Context, user domain.UserID) ([]domain.Participant, error) {
	var out []domain.Participant
	if err := c.get(ctx, "/api/participants/invited", &out); err != nil {
		return nil, err
	}
	// The endpoint answers for the bearer; keep only rows for the asked user.
	rows := out[:0]
	for _, p := range out {
		if p.UserID == user {
			rows = append(rows, p)
		}
	}
	return rows, nil
}

func (c *Client) GetParticipant(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID) (domain.Participant, error) {
	var p domain.Participant
	err := c.get(ctx, meetingPath(meeting, "participants", participant.String()), &p)
	return p, err
}

func (c *Client) FindParticipant(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	var p domain.Participant
	err := c.get(ctx, meetingPath(meeting, "participants", "by-user", user.String()), &p)
	return p, err
}

func (c *Client) Invite(ctx context.Context, meeting domain.MeetingID, user domain.UserID) (domain.Participant, error) {
	var p domain.Participant
	err := c.do(ctx, http.MethodPost, meetingPath(meeting, "invite"), map[string]any{"user_id": user}, &p)
	return p, err
}

func (c *Client) UpdateStatus(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID, status domain.ParticipantStatus) (domain.Participant, error) {
	var p domain.Participant
	err := c.do(ctx, http.MethodPatch, meetingPath(meeting, "participants", participant.String(), "status"),
		map[string]any{"status": status}, &p)
	return p, err
}

func (c *Client) MarkMissed(ctx context.Context, meeting domain.MeetingID, participant domain.ParticipantID) (domain.Participant, error) {
	var p domain.Participant
	err := c.do(ctx, http.MethodPost, meetingPath(meeting, "participants", participant.String(), "missed"), nil, &p)
	return p, err
}

// Leave records that the bearer exited the meeting session.
func (c *Client) Leave(ctx context.Context, meeting domain.MeetingID) (domain.Participant, error) {
	var p domain.Participant
	err := c.do(ctx, http.MethodPost, meetingPath(meeting, "leave"), nil, &p)
	return p, err
}

// CreateMeeting creates an instant meeting hosted by the bearer.
func (c *Client) CreateMeeting(ctx context.Context, org domain.OrganizationID, title string) (domain.Meeting, error) {
	var m domain.Meeting
	err := c.do(ctx, http.MethodPost, "/api/meetings", map[string]any{
		"organization_id": org,
		"title":           title,
		"type":            domain.MeetingInstant,
	}, &m)
	return m, err
}

// IsRetryable reports whether err is a transient API failure.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrUnavailable)
}
