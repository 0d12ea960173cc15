package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// User is the signed-in profile as returned by the backend.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Nickname     string    `json:"nickname"`
	AvatarURL    string    `json:"avatar_url"`
	Interests    []string  `json:"interests"`
	TotalCalls   int       `json:"total_calls"`
	TotalMinutes int       `json:"total_minutes"`
	IsOnline     bool      `json:"is_online"`
	CreatedAt    time.Time `json:"created_at"`
}

// State is the subset of the session that survives restarts.
type State struct {
	AccessToken string `json:"accessToken"`
	DeviceID    string `json:"deviceId"`
}

// Persister stores the durable session state.
type Persister interface {
	Save(State) error
	Load() (State, error)
	Clear() error
}

// FilePersister keeps the session state in a mode-0600 JSON file.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to the given path. Parent
// directories are created on first save.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the state to disk.
func (p *FilePersister) Save(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("session: create state dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("session: write state: %w", err)
	}
	return nil
}

// Load reads the state from disk. A missing file yields a zero state.
func (p *FilePersister) Load() (State, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("session: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("session: decode state: %w", err)
	}
	return state, nil
}

// Clear removes the state file.
func (p *FilePersister) Clear() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove state: %w", err)
	}
	return nil
}

// Store holds the in-memory session and mirrors the durable subset through
// the persister. Its AccessToken method satisfies the REST client's token
// provider.
type Store struct {
	persister Persister
	log       zerolog.Logger

	mu          sync.Mutex
	user        *User
	accessToken string
	deviceID    string
	listeners   []listener
}

// listener observes identity changes; it carries no payload because callers
// re-read the store.
type listener func()

// NewStore creates a store, restoring any persisted token and device id. A
// fresh device id is generated and persisted on first use.
func NewStore(persister Persister, log zerolog.Logger) (*Store, error) {
	state, err := persister.Load()
	if err != nil {
		return nil, err
	}

	s := &Store{
		persister:   persister,
		log:         log.With().Str("component", "session").Logger(),
		accessToken: state.AccessToken,
		deviceID:    state.DeviceID,
	}

	if s.deviceID == "" {
		s.deviceID = uuid.NewString()
		if err := persister.Save(State{AccessToken: s.accessToken, DeviceID: s.deviceID}); err != nil {
			return nil, err
		}
		s.log.Debug().Str("device_id", s.deviceID).Msg("generated device id")
	}

	return s, nil
}

// Subscribe registers a listener invoked after every identity change.
// Listeners run outside the lock and must not block.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	listeners := append([]listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// SetUser records the signed-in profile.
func (s *Store) SetUser(user *User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.notify()
}

// User returns a copy of the signed-in profile, or nil when signed out.
func (s *Store) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	u.Interests = append([]string(nil), s.user.Interests...)
	return &u
}

// SetAccessToken stores and persists the bearer token.
func (s *Store) SetAccessToken(token string) error {
	s.mu.Lock()
	s.accessToken = token
	state := State{AccessToken: token, DeviceID: s.deviceID}
	s.mu.Unlock()
	if err := s.persister.Save(state); err != nil {
		return err
	}
	s.notify()
	return nil
}

// AccessToken returns the current bearer token, or empty when signed out.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// DeviceID returns the stable anonymous device identifier.
func (s *Store) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// IsAuthenticated reports whether a token is present.
func (s *Store) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// IsOnboarded reports whether the signed-in user completed onboarding, which
// the backend signals through a non-empty nickname.
func (s *Store) IsOnboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && s.user.Nickname != ""
}

// Logout clears the identity and the persisted token. The device id is kept
// so bans and rate limits survive a sign-out.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.user = nil
	s.accessToken = ""
	state := State{DeviceID: s.deviceID}
	s.mu.Unlock()
	if err := s.persister.Save(state); err != nil {
		return err
	}
	s.notify()
	return nil
}
