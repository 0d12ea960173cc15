// Package api is the JSON-over-HTTPS client for the voicematch REST backend.
// Every request is bearer-token authenticated through the injected token
// provider; callers never handle raw HTTP responses, only decoded structs or
// an *Error carrying the backend's message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/session"
)

// TokenProvider supplies the current bearer token. An empty token means the
// request goes out unauthenticated.
type TokenProvider interface {
	AccessToken() string
}

// Error is a non-2xx backend response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: 요청 실패 (%d)", e.Status)
}

// Config holds client construction parameters.
type Config struct {
	BaseURL  string
	Tokens   TokenProvider
	DeviceID string        // optional, sent as X-Device-ID
	Timeout  time.Duration // defaults to 30s
}

// Client talks to the REST backend.
type Client struct {
	baseURL  string
	tokens   TokenProvider
	deviceID string
	http     *http.Client
	log      zerolog.Logger
}

// NewClient creates a REST client.
func NewClient(config Config, log zerolog.Logger) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  config.BaseURL,
		tokens:   config.Tokens,
		deviceID: config.DeviceID,
		http:     &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "api").Logger(),
	}
}

// do performs one JSON request. A nil out skips response decoding; skipAuth
// suppresses the Authorization header for public endpoints.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}, skipAuth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !skipAuth {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	var out struct {
		User session.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out, false); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// VerifyToken checks a token's validity without attaching the stored one.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	return c.do(ctx, http.MethodPost, "/api/auth/verify", body, nil, true)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ProfileUpdate carries the editable profile fields; empty values are
// omitted.
type ProfileUpdate struct {
	Nickname  string   `json:"nickname,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// UpdateProfile patches the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*session.User, error) {
	var out struct {
		User session.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/users/me", update, &out, false); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// CompleteOnboarding sets the initial nickname and interests.
func (c *Client) CompleteOnboarding(ctx context.Context, nickname string, interests []string) (*session.User, error) {
	body := map[string]interface{}{"nickname": nickname, "interests": interests}
	var out struct {
		User session.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/users/onboarding", body, &out, false); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// NicknameCheck is the availability verdict for a candidate nickname.
type NicknameCheck struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// CheckNickname checks whether a nickname is free.
func (c *Client) CheckNickname(ctx context.Context, nickname string) (NicknameCheck, error) {
	var out NicknameCheck
	endpoint := "/api/users/check-nickname?nickname=" + url.QueryEscape(nickname)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out, false); err != nil {
		return NicknameCheck{}, err
	}
	return out, nil
}

// Stats summarizes the signed-in user's call history.
type Stats struct {
	TotalCalls   int `json:"total_calls"`
	TotalMinutes int `json:"total_minutes"`
}

// MyStats returns the signed-in user's call statistics.
func (c *Client) MyStats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/users/me/stats", nil, &out, false); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// DeleteAccount removes the signed-in user's account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/users/me", nil, nil, false)
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

// Rating is a post-call partner rating.
type Rating string

const (
	RatingGood    Rating = "good"
	RatingNeutral Rating = "neutral"
)

// StartMatch enqueues the user for matching over REST. The realtime flow
// normally drives matching through signaling; this endpoint exists for
// clients without a live socket.
func (c *Client) StartMatch(ctx context.Context, interests []string) error {
	body := map[string][]string{"interests": interests}
	return c.do(ctx, http.MethodPost, "/api/match/start", body, nil, false)
}

// CancelMatch removes the user from the matching queue.
func (c *Client) CancelMatch(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/match/cancel", nil, nil, false)
}

// RateMatch submits the post-call rating for a session.
func (c *Client) RateMatch(ctx context.Context, sessionID string, rating Rating) error {
	if rating != RatingGood && rating != RatingNeutral {
		return fmt.Errorf("api: invalid rating %q", rating)
	}
	body := map[string]string{"rating": string(rating)}
	return c.do(ctx, http.MethodPost, "/api/match/"+sessionID+"/rate", body, nil, false)
}

// OnlineCount returns the number of users currently online. Public endpoint.
func (c *Client) OnlineCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/match/online-count", nil, &out, true); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ---------------------------------------------------------------------------
// Voice
// ---------------------------------------------------------------------------

// VoiceToken is a single-use voice channel credential set.
type VoiceToken struct {
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
	UID       uint32 `json:"uid"`
}

// GetVoiceToken requests join credentials scoped to a channel.
func (c *Client) GetVoiceToken(ctx context.Context, channelID string) (VoiceToken, error) {
	body := map[string]string{"channelId": channelID}
	var out VoiceToken
	if err := c.do(ctx, http.MethodPost, "/api/voice/token", body, &out, false); err != nil {
		return VoiceToken{}, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// Room is a themed group conversation room.
type Room struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Theme               string `json:"theme"`
	Icon                string `json:"icon"`
	MaxParticipants     int    `json:"max_participants"`
	CurrentParticipants int    `json:"current_participants"`
	IsActive            bool   `json:"is_active"`
}

// Rooms lists the available group rooms.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out, false); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

// JoinRoom enters a group room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/join", nil, nil, false)
}

// LeaveRoom exits a group room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/leave", nil, nil, false)
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// ReportReason is a category for abuse reports.
type ReportReason string

const (
	ReasonHarassment    ReportReason = "harassment"
	ReasonSpam          ReportReason = "spam"
	ReasonInappropriate ReportReason = "inappropriate"
	ReasonOther         ReportReason = "other"
)

// validReasons is the set of allowed reason values, matching the backend's
// constraint.
var validReasons = map[ReportReason]bool{
	ReasonHarassment:    true,
	ReasonSpam:          true,
	ReasonInappropriate: true,
	ReasonOther:         true,
}

// Report captures a complaint about a partner, optionally tied to a match
// session.
type Report struct {
	ReportedID  string       `json:"reportedId"`
	SessionID   string       `json:"sessionId,omitempty"`
	Reason      ReportReason `json:"reason"`
	Description string       `json:"description,omitempty"`
}

// SubmitReport files an abuse report. The reason is validated before any
// network round-trip.
func (c *Client) SubmitReport(ctx context.Context, report Report) error {
	if !validReasons[report.Reason] {
		return fmt.Errorf("api: invalid report reason %q", report.Reason)
	}
	if report.ReportedID == "" {
		return fmt.Errorf("api: report requires a reported user id")
	}
	return c.do(ctx, http.MethodPost, "/api/reports", report, nil, false)
}

// queryInt renders a positive int as a query value, empty otherwise.
func queryInt(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
