// Package timer derives a smooth, user-facing countdown from the match
// store's authoritative remaining seconds. While a call is active it runs a
// once-per-second local decrement; server timer_sync events overwrite the
// value at lower frequency and the local decrement resumes from the corrected
// value on the next tick.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/match"
)

const (
	// WarningSeconds is the threshold below which the countdown is flagged
	// as a warning (two minutes).
	WarningSeconds = 120

	// UrgentSeconds is the threshold below which the countdown is flagged
	// as urgent.
	UrgentSeconds = 30
)

// Reading is a pure projection of a remaining-seconds value into the derived
// display outputs.
type Reading struct {
	RemainingSeconds int
	Progress         float64 // 0-100, for a radial indicator
	Warning          bool    // <= 2 minutes, > 30 seconds
	Urgent           bool    // <= 30 seconds
	Formatted        string  // M:SS
}

// For computes the derived outputs for a remaining-seconds value.
func For(seconds int) Reading {
	return Reading{
		RemainingSeconds: seconds,
		Progress:         float64(seconds) / float64(match.CallSeconds) * 100,
		Warning:          seconds <= WarningSeconds && seconds > UrgentSeconds,
		Urgent:           seconds <= UrgentSeconds,
		Formatted:        Format(seconds),
	}
}

// Format renders seconds as M:SS, clamped to non-negative, with the seconds
// component zero-padded to two digits.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Engine runs the local per-second interpolator. It observes the store's
// phase: the ticker is started lazily on entering the active phase and torn
// down on leaving it, with a guard against duplicate tickers.
type Engine struct {
	store *match.Store
	clock clockwork.Clock
	log   zerolog.Logger

	mu   sync.Mutex
	stop chan struct{} // non-nil while the ticker goroutine runs
	done chan struct{} // closed by the ticker goroutine once fully torn down
}

// NewEngine creates an engine bound to the store and starts observing phase
// changes. If the store is already in the active phase the ticker starts
// immediately.
func NewEngine(store *match.Store, clock clockwork.Clock, log zerolog.Logger) *Engine {
	e := &Engine{
		store: store,
		clock: clock,
		log:   log.With().Str("component", "timer").Logger(),
	}
	store.Subscribe(func(snap match.Snapshot) {
		e.handlePhase(snap.Phase)
	})
	e.handlePhase(store.Phase())
	return e
}

// Reading returns the derived outputs for the store's current countdown.
func (e *Engine) Reading() Reading {
	return For(e.store.Snapshot().RemainingSeconds)
}

// Close stops the interpolator regardless of phase. Safe to call multiple
// times.
func (e *Engine) Close() {
	e.mu.Lock()
	done := e.stopLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) handlePhase(phase match.Phase) {
	e.mu.Lock()

	if phase == match.PhaseActive && e.stop != nil {
		// Already interpolating.
		e.mu.Unlock()
		return
	}

	// Tear the current interpolator down and wait for its goroutine to exit
	// (and unregister its ticker) before starting a replacement, so at most
	// one interpolator ever exists. The wait must happen outside the mutex:
	// the goroutine's store mutations re-enter handlePhase via the
	// subscription and would deadlock against it.
	done := e.stopLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}

	if phase != match.PhaseActive {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		// A concurrent phase change already restarted it.
		return
	}
	stop := make(chan struct{})
	e.stop = stop
	e.done = make(chan struct{})
	go e.run(stop, e.done)
	e.log.Debug().Msg("countdown interpolator started")
}

// stopLocked signals the running interpolator to exit and returns its done
// channel, or nil if none was running. The caller waits on the channel after
// releasing the mutex.
func (e *Engine) stopLocked() chan struct{} {
	if e.stop == nil {
		return nil
	}
	close(e.stop)
	done := e.done
	e.stop = nil
	e.done = nil
	e.log.Debug().Msg("countdown interpolator stopped")
	return done
}

// run decrements the countdown once per second until stopped. The decrement
// is floor-clamped at zero, and the phase is re-checked on every tick so a
// stop that races a tick cannot mutate post-call state.
func (e *Engine) run(stop, done chan struct{}) {
	defer close(done)
	ticker := e.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			snap := e.store.Snapshot()
			if snap.Phase != match.PhaseActive {
				continue
			}
			if snap.RemainingSeconds > 0 {
				e.store.SetRemainingSeconds(snap.RemainingSeconds - 1)
			}
		}
	}
}
