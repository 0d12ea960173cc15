package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/match"
	"github.com/tenmb/voicematch/internal/metrics"
)

// MaxJoinAttempts bounds the join retry loop: one initial attempt plus two
// retries, with delays growing by one second per attempt.
const MaxJoinAttempts = 3

// speakingLevelThreshold is the volume level above which a participant is
// considered speaking.
const speakingLevelThreshold = 5

// Mode selects between the two voice contexts.
type Mode string

const (
	// ModeMatch is the 1:1 call: joining drives the match store to the
	// active phase and mute state is mirrored into it.
	ModeMatch Mode = "match"

	// ModeRoom is the group room: no match store coupling, but the volume
	// indicator tracks who is speaking.
	ModeRoom Mode = "room"
)

// State is the controller's internal connection state. It is not part of the
// match phase; the store only learns about a successful 1:1 join.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// TokenSource fetches single-use voice join credentials scoped to a channel.
type TokenSource interface {
	VoiceToken(ctx context.Context, channelID string) (token string, uid uint32, err error)
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context, channelID string) (string, uint32, error)

// VoiceToken implements TokenSource.
func (f TokenFunc) VoiceToken(ctx context.Context, channelID string) (string, uint32, error) {
	return f(ctx, channelID)
}

// MatchTokenSource serves the credentials the match itself delivered, falling
// back to the given source when the store holds none for the channel (room
// joins, or a rejoin after the single-use token was consumed). A zero uid
// lets the transport assign one.
func MatchTokenSource(store *match.Store, fallback TokenSource) TokenSource {
	return TokenFunc(func(ctx context.Context, channelID string) (string, uint32, error) {
		snap := store.Snapshot()
		if snap.ChannelID == channelID && snap.ChannelToken != "" {
			return snap.ChannelToken, 0, nil
		}
		if fallback == nil {
			return "", 0, fmt.Errorf("voice: no credentials for channel %q", channelID)
		}
		return fallback.VoiceToken(ctx, channelID)
	})
}

// Status is a snapshot of the controller's user-visible state.
type Status struct {
	State        State
	ErrorMessage string // translated, empty unless State == StateError
	MicOn        bool
	UID          uint32
	Speaking     []uint32 // room mode only, sorted
}

// Controller manages the voice transport lifecycle for one call or room
// visit: credential fetch, join with bounded retry, mic toggling and
// idempotent teardown.
type Controller struct {
	mode      Mode
	tokens    TokenSource
	transport Transport
	store     *match.Store
	clock     clockwork.Clock
	log       zerolog.Logger

	mu       sync.Mutex
	state    State
	errMsg   string
	micOn    bool
	uid      uint32
	speaking map[uint32]struct{}
}

// NewController creates a controller in the disconnected state.
func NewController(mode Mode, tokens TokenSource, transport Transport, store *match.Store, clock clockwork.Clock, log zerolog.Logger) *Controller {
	return &Controller{
		mode:      mode,
		tokens:    tokens,
		transport: transport,
		store:     store,
		clock:     clock,
		log:       log.With().Str("component", "voice").Str("mode", string(mode)).Logger(),
		state:     StateDisconnected,
		micOn:     true,
		speaking:  make(map[uint32]struct{}),
	}
}

// Join enters the voice channel, retrying transient failures up to
// MaxJoinAttempts with delays of 1s, 2s. Credential and media failures are
// terminal immediately: retrying cannot fix a denied microphone or an
// invalidated token. On success in match mode the match store is driven to
// the active phase. Cancelling ctx abandons the attempt and any pending
// retry without touching state further.
func (c *Controller) Join(ctx context.Context, channelID string) error {
	for attempt := 1; ; attempt++ {
		c.setState(StateConnecting, "")
		metrics.VoiceJoinAttemptsTotal.Inc()

		err := c.tryJoin(ctx, channelID)
		if err == nil {
			c.mu.Lock()
			c.state = StateConnected
			c.errMsg = ""
			c.micOn = true
			c.mu.Unlock()
			c.log.Info().Str("channel", channelID).Int("attempt", attempt).Msg("voice channel joined")
			if c.mode == ModeMatch {
				c.store.SetPhase(match.PhaseActive)
			}
			return nil
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected, "")
			return ctx.Err()
		}

		err = classify(err)
		c.log.Warn().Err(err).Str("channel", channelID).
			Int("attempt", attempt).Int("max_attempts", MaxJoinAttempts).
			Msg("voice join failed")

		if kind, terminal := terminalKind(err); terminal {
			metrics.VoiceJoinFailuresTotal.WithLabelValues(kind).Inc()
			c.setState(StateError, Translate(err))
			return err
		}
		if attempt >= MaxJoinAttempts {
			metrics.VoiceJoinFailuresTotal.WithLabelValues("transport").Inc()
			c.setState(StateError, Translate(err))
			return err
		}

		// Silent automatic retry after attempt x 1 second.
		delay := time.Duration(attempt) * time.Second
		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected, "")
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}

// terminalKind reports whether the error must not be retried, and the metric
// label for it.
func terminalKind(err error) (string, bool) {
	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return "credentials", true
	}
	var mediaErr *MediaError
	if errors.As(err, &mediaErr) {
		return "media", true
	}
	return "", false
}

func (c *Controller) tryJoin(ctx context.Context, channelID string) error {
	token, uid, err := c.tokens.VoiceToken(ctx, channelID)
	if err != nil {
		return &CredentialError{Err: err}
	}

	if err := c.transport.Join(ctx, channelID, token, uid); err != nil {
		return fmt.Errorf("join channel %s: %w", channelID, err)
	}

	if err := c.transport.PublishMicrophone(ctx); err != nil {
		// Leave so a retry starts from a clean transport state.
		if lerr := c.transport.Leave(ctx); lerr != nil {
			c.log.Warn().Err(lerr).Msg("leave after failed publish")
		}
		return fmt.Errorf("publish microphone: %w", err)
	}

	// Auto-subscribe to any remote audio track.
	c.transport.OnRemotePublished(func(remoteUID uint32, mediaType string) {
		if mediaType != "audio" {
			return
		}
		if err := c.transport.SubscribeAudio(context.Background(), remoteUID); err != nil {
			c.log.Warn().Err(err).Uint32("uid", remoteUID).Msg("subscribe remote audio")
		}
	})

	if c.mode == ModeRoom {
		c.transport.EnableVolumeIndicator(func(levels []VolumeLevel) {
			speaking := make(map[uint32]struct{})
			for _, v := range levels {
				if v.Level > speakingLevelThreshold {
					speaking[v.UID] = struct{}{}
				}
			}
			c.mu.Lock()
			c.speaking = speaking
			c.mu.Unlock()
		})
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return nil
}

// Leave tears the transport down. It is idempotent: only the first call
// after a join (or join attempt) reaches the transport, and teardown errors
// are logged, never returned. Safe to call when never joined.
func (c *Controller) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.errMsg = ""
	c.micOn = true
	c.speaking = make(map[uint32]struct{})
	c.mu.Unlock()

	if err := c.transport.Leave(ctx); err != nil {
		c.log.Warn().Err(err).Msg("voice channel leave")
		return
	}
	c.log.Info().Msg("voice channel left")
}

// ToggleMic flips the local publish-enabled state and returns the new mic-on
// value. In match mode the mute state is mirrored into the match store so the
// server and partner can learn about it via signaling.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	c.micOn = !c.micOn
	enabled := c.micOn
	c.mu.Unlock()

	c.transport.SetMicEnabled(enabled)
	if c.mode == ModeMatch {
		c.store.SetMuted(!enabled)
	}
	return enabled
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:        c.state,
		ErrorMessage: c.errMsg,
		MicOn:        c.micOn,
		UID:          c.uid,
	}
	for uid := range c.speaking {
		st.Speaking = append(st.Speaking, uid)
	}
	sort.Slice(st.Speaking, func(i, j int) bool { return st.Speaking[i] < st.Speaking[j] })
	return st
}

func (c *Controller) setState(state State, errMsg string) {
	c.mu.Lock()
	c.state = state
	c.errMsg = errMsg
	c.mu.Unlock()
}
