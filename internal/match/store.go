// Package match holds the canonical state machine for a single matching and
// call attempt. The store is the only owner of the current phase; every other
// component mutates it exclusively through the named actions below and
// observes it through snapshots and subscriptions.
package match

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CallSeconds is the fixed call length. The countdown is reset to this value
// exactly when a match is found and only decremented thereafter.
const CallSeconds = 600

// Phase is the discrete stage of a matching attempt. Exactly one phase is
// active at a time.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelecting Phase = "selecting"
	PhaseSearching Phase = "searching"
	PhaseMatched   Phase = "matched"
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
)

// EndReason records why a call ended. It is set exactly once per session, at
// the transition into PhaseEnded, and cleared by Reset.
type EndReason string

const (
	EndReasonNone        EndReason = ""
	EndReasonTimer       EndReason = "timer"
	EndReasonPartnerLeft EndReason = "partner_left"
	EndReasonSelfLeft    EndReason = "self_left"
)

// InCall reports whether the phase carries an active match session, i.e.
// partner and session id are populated.
func (p Phase) InCall() bool {
	return p == PhaseMatched || p == PhaseActive || p == PhaseEnded
}

// Partner describes the matched peer as disclosed by the server.
type Partner struct {
	Nickname  string
	Interests []string
}

// Found carries everything delivered atomically with a successful match: the
// backend session record id, partner info, the server-computed interest
// intersection, and the single-use voice channel credentials.
type Found struct {
	SessionID       string
	PartnerID       string
	Partner         Partner
	CommonInterests []string
	ChannelID       string
	ChannelToken    string
}

// Snapshot is an immutable copy of the store's state at one point in time.
type Snapshot struct {
	Phase             Phase
	EndReason         EndReason
	SessionID         string
	PartnerID         string
	Partner           *Partner
	SelectedInterests []string
	CommonInterests   []string
	ChannelID         string
	ChannelToken      string
	RemainingSeconds  int
	Muted             bool
	WaitingCount      int
	SearchStartedAt   time.Time
}

// Listener is notified with a fresh snapshot after every mutation. Listeners
// are invoked synchronously on the mutating goroutine and must not block or
// mutate the store reentrantly in a way that loops.
type Listener func(Snapshot)

// Store is the in-memory match state container. Instances are independent so
// tests and embedders can create as many as they need; there is no package
// singleton.
type Store struct {
	clock clockwork.Clock

	mu                sync.Mutex
	phase             Phase
	endReason         EndReason
	sessionID         string
	partnerID         string
	partner           *Partner
	selectedInterests []string
	commonInterests   []string
	channelID         string
	channelToken      string
	remainingSeconds  int
	muted             bool
	waitingCount      int
	searchStartedAt   time.Time

	listeners []Listener
}

// NewStore creates a store in its initial idle state.
func NewStore(clock clockwork.Clock) *Store {
	s := &Store{clock: clock}
	s.applyDefaults()
	return s
}

func (s *Store) applyDefaults() {
	s.phase = PhaseIdle
	s.endReason = EndReasonNone
	s.sessionID = ""
	s.partnerID = ""
	s.partner = nil
	s.selectedInterests = nil
	s.commonInterests = nil
	s.channelID = ""
	s.channelToken = ""
	s.remainingSeconds = CallSeconds
	s.muted = false
	s.waitingCount = 0
	s.searchStartedAt = time.Time{}
}

// Subscribe registers a listener that observes every mutation. Subscriptions
// cannot be removed; subscribers outlive the store in practice.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return snap
}

// Phase returns the current phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	p := s.phase
	s.mu.Unlock()
	return p
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:            s.phase,
		EndReason:        s.endReason,
		SessionID:        s.sessionID,
		PartnerID:        s.partnerID,
		ChannelID:        s.channelID,
		ChannelToken:     s.channelToken,
		RemainingSeconds: s.remainingSeconds,
		Muted:            s.muted,
		WaitingCount:     s.waitingCount,
		SearchStartedAt:  s.searchStartedAt,
	}
	if s.partner != nil {
		p := Partner{
			Nickname:  s.partner.Nickname,
			Interests: append([]string(nil), s.partner.Interests...),
		}
		snap.Partner = &p
	}
	snap.SelectedInterests = append([]string(nil), s.selectedInterests...)
	snap.CommonInterests = append([]string(nil), s.commonInterests...)
	return snap
}

// notify runs every listener with the given snapshot. Must be called without
// holding the mutex.
func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// mutate applies fn under the lock and notifies listeners with the resulting
// snapshot.
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// SetPhase overwrites the phase unconditionally. It exists for the internal
// matched -> active timed transition; the caller is responsible for the
// legality of the transition.
func (s *Store) SetPhase(phase Phase) {
	s.mutate(func() { s.phase = phase })
}

// SetSelectedInterests records the interest tags chosen on the selection
// screen.
func (s *Store) SetSelectedInterests(interests []string) {
	s.mutate(func() {
		s.selectedInterests = append([]string(nil), interests...)
	})
}

// StartSearching transitions to the searching phase and stamps the search
// start time. The caller has already validated a non-empty selection.
func (s *Store) StartSearching() {
	s.mutate(func() {
		s.phase = PhaseSearching
		s.searchStartedAt = s.clock.Now()
	})
}

// SetMatchFound transitions to the matched phase and atomically populates the
// session, partner, interest intersection and voice credentials. The
// countdown is reset to the full call length here and nowhere else. This is
// the sole entry point into an active match.
func (s *Store) SetMatchFound(found Found) {
	s.mutate(func() {
		s.phase = PhaseMatched
		s.sessionID = found.SessionID
		s.partnerID = found.PartnerID
		partner := Partner{
			Nickname:  found.Partner.Nickname,
			Interests: append([]string(nil), found.Partner.Interests...),
		}
		s.partner = &partner
		s.commonInterests = append([]string(nil), found.CommonInterests...)
		s.channelID = found.ChannelID
		s.channelToken = found.ChannelToken
		s.remainingSeconds = CallSeconds
	})
}

// SetRemainingSeconds overwrites the countdown. Called both by the local
// per-second interpolator and by server sync ticks; last writer wins, which
// means a server correction always replaces the interpolated value.
func (s *Store) SetRemainingSeconds(seconds int) {
	s.mutate(func() {
		if seconds < 0 {
			seconds = 0
		}
		s.remainingSeconds = seconds
	})
}

// SetMuted records the local mute state so signaling can inform the partner.
func (s *Store) SetMuted(muted bool) {
	s.mutate(func() { s.muted = muted })
}

// SetWaitingCount updates the advisory queue size shown while searching.
func (s *Store) SetWaitingCount(count int) {
	s.mutate(func() { s.waitingCount = count })
}

// SetEnded transitions to the ended phase and records the reason.
func (s *Store) SetEnded(reason EndReason) {
	s.mutate(func() {
		s.phase = PhaseEnded
		s.endReason = reason
	})
}

// Reset restores all fields to their initial defaults. It is the only
// transition back to idle from any other phase.
func (s *Store) Reset() {
	s.mutate(func() { s.applyDefaults() })
}
