// Package app wires the match store, signaling client, voice controller and
// REST client into one user-facing flow. The coordinator owns the transitions
// the store cannot make on its own: arming the search timeout, delaying the
// matched screen before the call starts, invoking the voice join, and tearing
// the voice session down exactly once when a call ends.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/api"
	"github.com/tenmb/voicematch/internal/match"
	"github.com/tenmb/voicematch/internal/metrics"
	"github.com/tenmb/voicematch/internal/signaling"
)

// SearchTimeout is how long a search may run before the user is nudged. The
// search itself keeps going; the timeout is advisory.
const SearchTimeout = 60 * time.Second

// matchFoundDelay is how long the matched screen is shown before the voice
// join begins.
const matchFoundDelay = 2 * time.Second

// ErrNoInterests is returned when a search is started with nothing selected.
var ErrNoInterests = errors.New("app: at least one interest is required")

// Signaler is the slice of the signaling client the coordinator drives.
type Signaler interface {
	StartMatch(interests []string) error
	CancelMatch() error
	LeaveMatch() error
	On(msgType string, fn func(json.RawMessage))
	OnStatus(fn func(signaling.Status))
}

// VoiceSession is the slice of the voice controller the coordinator drives.
type VoiceSession interface {
	Join(ctx context.Context, channelID string) error
	Leave(ctx context.Context)
	ToggleMic() bool
}

// Feedback is the slice of the REST client used for post-call actions.
type Feedback interface {
	RateMatch(ctx context.Context, sessionID string, rating api.Rating) error
	SubmitReport(ctx context.Context, report api.Report) error
}

// Coordinator drives a match lifecycle end to end. All dependencies are
// injected; tests substitute fakes for the signaler and voice session.
type Coordinator struct {
	store  *match.Store
	signal Signaler
	voice  VoiceSession
	api    Feedback
	clock  clockwork.Clock
	log    zerolog.Logger

	mu              sync.Mutex
	prevPhase       match.Phase
	searchStop      chan struct{}
	searchGen       int
	searchTimedOut  bool
	onSearchTimeout func()
	joinGen         int
	joinCancel      context.CancelFunc
	voiceDone       bool
}

// NewCoordinator builds a coordinator and subscribes it to the store and the
// signaling status feed.
func NewCoordinator(store *match.Store, signal Signaler, voice VoiceSession, feedback Feedback, clock clockwork.Clock, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		store:     store,
		signal:    signal,
		voice:     voice,
		api:       feedback,
		clock:     clock,
		log:       log.With().Str("component", "coordinator").Logger(),
		prevPhase: store.Phase(),
		voiceDone: true,
	}
	store.Subscribe(c.onSnapshot)
	signal.OnStatus(c.onSignalStatus)
	return c
}

// OnSearchTimeout registers the advisory search timeout observer.
func (c *Coordinator) OnSearchTimeout(fn func()) {
	c.mu.Lock()
	c.onSearchTimeout = fn
	c.mu.Unlock()
}

// SearchTimedOut reports whether the current search passed the advisory
// timeout. Cleared when a new search starts.
func (c *Coordinator) SearchTimedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchTimedOut
}

// ---------------------------------------------------------------------------
// User intents
// ---------------------------------------------------------------------------

// StartMatch validates the selection, announces the intent and moves the
// store into the searching phase.
func (c *Coordinator) StartMatch(interests []string) error {
	if len(interests) == 0 {
		return ErrNoInterests
	}
	c.store.SetSelectedInterests(interests)
	if err := c.signal.StartMatch(interests); err != nil {
		return err
	}
	c.store.StartSearching()
	c.armSearchTimeout()
	c.log.Info().Strs("interests", interests).Msg("search started")
	return nil
}

// CancelMatch asks the backend to drop the search. The store resets when the
// cancellation is confirmed, not here.
func (c *Coordinator) CancelMatch() error {
	return c.signal.CancelMatch()
}

// Leave ends the current call from this side. The local end is recorded
// immediately; the backend notification is best effort. Outside a live call
// there is nothing to leave and the store is left alone.
func (c *Coordinator) Leave() {
	phase := c.store.Phase()
	if phase != match.PhaseMatched && phase != match.PhaseActive {
		return
	}
	if err := c.signal.LeaveMatch(); err != nil {
		c.log.Warn().Err(err).Msg("leave notification failed")
	}
	c.store.SetEnded(match.EndReasonSelfLeft)
}

// ToggleMic flips the microphone and returns the new enabled state.
func (c *Coordinator) ToggleMic() bool {
	return c.voice.ToggleMic()
}

// Rate submits the post-call rating for the session that just ended.
func (c *Coordinator) Rate(ctx context.Context, rating api.Rating) error {
	snap := c.store.Snapshot()
	if snap.SessionID == "" {
		return fmt.Errorf("app: no session to rate")
	}
	return c.api.RateMatch(ctx, snap.SessionID, rating)
}

// Report files an abuse report against the current or most recent partner.
func (c *Coordinator) Report(ctx context.Context, reason api.ReportReason, description string) error {
	snap := c.store.Snapshot()
	if snap.PartnerID == "" {
		return fmt.Errorf("app: no partner to report")
	}
	return c.api.SubmitReport(ctx, api.Report{
		ReportedID:  snap.PartnerID,
		SessionID:   snap.SessionID,
		Reason:      reason,
		Description: description,
	})
}

// Rematch resets the ended session and starts a new search with the same
// interest selection.
func (c *Coordinator) Rematch() error {
	interests := c.store.Snapshot().SelectedInterests
	c.store.Reset()
	return c.StartMatch(interests)
}

// Shutdown is the teardown path for application exit. It notifies the backend
// according to the current phase, cancels pending work and releases the voice
// session. The store is left as is; the process is going away.
func (c *Coordinator) Shutdown() {
	switch c.store.Phase() {
	case match.PhaseSearching:
		if err := c.signal.CancelMatch(); err != nil {
			c.log.Warn().Err(err).Msg("shutdown cancel failed")
		}
	case match.PhaseMatched, match.PhaseActive:
		if err := c.signal.LeaveMatch(); err != nil {
			c.log.Warn().Err(err).Msg("shutdown leave failed")
		}
	}

	c.mu.Lock()
	c.stopSearchTimerLocked()
	cancel := c.joinCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.teardownVoice()
}

// ---------------------------------------------------------------------------
// Store reactions
// ---------------------------------------------------------------------------

func (c *Coordinator) onSnapshot(snap match.Snapshot) {
	c.mu.Lock()
	prev := c.prevPhase
	c.prevPhase = snap.Phase
	c.mu.Unlock()
	if prev == snap.Phase {
		return
	}

	switch snap.Phase {
	case match.PhaseMatched:
		c.handleMatched(snap)
	case match.PhaseActive:
		metrics.CallActive.Set(1)
	case match.PhaseEnded:
		c.handleEnded(snap)
	case match.PhaseIdle:
		c.handleIdle()
	}
}

// handleMatched records the match, stops the search timeout, starts the voice
// join right away and arms the matched-screen timer. The phase flips to active
// when the timer elapses whether or not the join has landed; a failed join
// surfaces its error inside the call view. A reset or an end before the timer
// elapses aborts both.
func (c *Coordinator) handleMatched(snap match.Snapshot) {
	metrics.MatchesFoundTotal.Inc()
	if !snap.SearchStartedAt.IsZero() {
		metrics.MatchWaitSeconds.Observe(c.clock.Since(snap.SearchStartedAt).Seconds())
	}

	joinCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.stopSearchTimerLocked()
	if c.joinCancel != nil {
		c.joinCancel()
	}
	c.joinCancel = cancel
	c.joinGen++
	gen := c.joinGen
	c.voiceDone = false
	timer := c.clock.NewTimer(matchFoundDelay)
	c.mu.Unlock()

	c.log.Info().Str("session_id", snap.SessionID).Str("partner", snap.Partner.Nickname).Msg("match found")

	// The credentials arrived with the match, so the channel join starts
	// immediately and overlaps the matched screen.
	go func() {
		if err := c.voice.Join(joinCtx, snap.ChannelID); err != nil {
			c.log.Error().Err(err).Str("channel_id", snap.ChannelID).Msg("voice join failed")
		}
	}()

	go func() {
		select {
		case <-joinCtx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		c.mu.Lock()
		stale := gen != c.joinGen
		c.mu.Unlock()
		if stale || c.store.Phase() != match.PhaseMatched {
			// A join that already completed flipped the phase itself.
			return
		}
		c.store.SetPhase(match.PhaseActive)
	}()
}

func (c *Coordinator) handleEnded(snap match.Snapshot) {
	metrics.CallActive.Set(0)
	metrics.CallsEndedTotal.WithLabelValues(string(snap.EndReason)).Inc()
	c.log.Info().Str("reason", string(snap.EndReason)).Msg("call ended")

	// Ending during the matched delay must also abort the pending join.
	c.mu.Lock()
	cancel := c.joinCancel
	c.joinCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.teardownVoice()
}

// handleIdle runs on any reset: a confirmed cancellation, a server error, or
// an explicit rematch. Pending joins are cancelled and the voice session is
// released if it was ever started.
func (c *Coordinator) handleIdle() {
	metrics.CallActive.Set(0)

	c.mu.Lock()
	c.stopSearchTimerLocked()
	cancel := c.joinCancel
	c.joinCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.teardownVoice()
}

// teardownVoice releases the voice session at most once per match. The leave
// itself runs off the listener goroutine so a slow transport cannot stall the
// store's notification chain.
func (c *Coordinator) teardownVoice() {
	c.mu.Lock()
	if c.voiceDone {
		c.mu.Unlock()
		return
	}
	c.voiceDone = true
	c.mu.Unlock()
	go c.voice.Leave(context.Background())
}

// onSignalStatus watches for an irrecoverably lost connection. A transient
// drop leaves the call alone; when the reconnect budget is spent mid-call the
// call cannot continue and is ended locally.
func (c *Coordinator) onSignalStatus(s signaling.Status) {
	if !s.Terminal {
		return
	}
	phase := c.store.Phase()
	if phase == match.PhaseMatched || phase == match.PhaseActive {
		c.log.Warn().Msg("signaling lost for good, ending call")
		c.store.SetEnded(match.EndReasonSelfLeft)
	}
}

// ---------------------------------------------------------------------------
// Search timeout
// ---------------------------------------------------------------------------

func (c *Coordinator) armSearchTimeout() {
	stop := make(chan struct{})

	c.mu.Lock()
	c.stopSearchTimerLocked()
	c.searchTimedOut = false
	c.searchGen++
	gen := c.searchGen
	c.searchStop = stop
	c.mu.Unlock()

	timer := c.clock.NewTimer(SearchTimeout)
	go func() {
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		c.mu.Lock()
		fired := gen == c.searchGen && c.store.Phase() == match.PhaseSearching
		var fn func()
		if fired {
			c.searchTimedOut = true
			fn = c.onSearchTimeout
		}
		c.mu.Unlock()
		if fired {
			c.log.Info().Msg("search is taking longer than usual")
		}
		if fn != nil {
			fn()
		}
	}()
}

func (c *Coordinator) stopSearchTimerLocked() {
	if c.searchStop != nil {
		close(c.searchStop)
		c.searchStop = nil
	}
}
