// matchcli runs one matching session from a terminal: it searches with the
// configured interests, joins the call when a partner is found, and prints
// the state transitions until the call ends or the process is interrupted.
// It is the reference wiring of the full client stack.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/api"
	"github.com/tenmb/voicematch/internal/app"
	"github.com/tenmb/voicematch/internal/match"
	"github.com/tenmb/voicematch/internal/metrics"
	"github.com/tenmb/voicematch/internal/session"
	"github.com/tenmb/voicematch/internal/signaling"
	"github.com/tenmb/voicematch/internal/timer"
	"github.com/tenmb/voicematch/internal/voice"
)

type config struct {
	apiURL      string
	socketURL   string
	accessToken string
	sessionFile string
	metricsAddr string
	interests   []string
}

func loadConfig() config {
	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	cfg := config{
		apiURL:      "http://localhost:3000",
		socketURL:   "ws://localhost:3001/socket",
		metricsAddr: ":9100",
	}
	if v := os.Getenv("API_URL"); v != "" {
		cfg.apiURL = v
	}
	if v := os.Getenv("SOCKET_URL"); v != "" {
		cfg.socketURL = v
	}
	cfg.accessToken = os.Getenv("ACCESS_TOKEN")
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.metricsAddr = v
	}

	cfg.sessionFile = os.Getenv("SESSION_FILE")
	if cfg.sessionFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.sessionFile = filepath.Join(home, ".voicematch", "session.json")
	}

	for _, tag := range strings.Split(os.Getenv("INTERESTS"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			cfg.interests = append(cfg.interests, tag)
		}
	}
	return cfg
}

func main() {
	cfg := loadConfig()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	clock := clockwork.NewRealClock()

	sessions, err := session.NewStore(session.NewFilePersister(cfg.sessionFile), log)
	if err != nil {
		log.Fatal().Err(err).Msg("session store init failed")
	}
	if cfg.accessToken != "" {
		if err := sessions.SetAccessToken(cfg.accessToken); err != nil {
			log.Fatal().Err(err).Msg("storing access token failed")
		}
	}
	if sessions.AccessToken() == "" {
		log.Fatal().Msg("no access token; set ACCESS_TOKEN or seed the session file")
	}

	apiClient := api.NewClient(api.Config{
		BaseURL:  cfg.apiURL,
		Tokens:   sessions,
		DeviceID: sessions.DeviceID(),
	}, log)

	store := match.NewStore(clock)
	engine := timer.NewEngine(store, clock, log)
	defer engine.Close()

	sig := signaling.New(signaling.Config{
		URL:      cfg.socketURL,
		Token:    sessions.AccessToken(),
		DeviceID: sessions.DeviceID(),
	}, store, clock, log)

	// matchcli carries no audio; the coordinator still exercises the full
	// join and teardown flow against the no-op transport. Credentials come
	// with the match itself; the REST fetch covers everything else.
	tokens := voice.MatchTokenSource(store, voice.TokenFunc(
		func(ctx context.Context, channelID string) (string, uint32, error) {
			tok, err := apiClient.GetVoiceToken(ctx, channelID)
			if err != nil {
				return "", 0, err
			}
			return tok.Token, tok.UID, nil
		},
	))
	voiceCtl := voice.NewController(voice.ModeMatch, tokens, voice.NopTransport{}, store, clock, log)

	coord := app.NewCoordinator(store, sig, voiceCtl, apiClient, clock, log)
	coord.OnSearchTimeout(func() {
		log.Warn().Msg("still searching, the queue may be quiet right now")
	})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	store.Subscribe(func(snap match.Snapshot) { logTransition(log, snap) })

	ctx, stop := signalContext()
	defer stop()

	if err := sig.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("signaling connect failed")
	}
	defer sig.Close()

	if count, err := apiClient.OnlineCount(ctx); err == nil {
		log.Info().Int("online", count).Msg("connected")
	}

	if len(cfg.interests) == 0 {
		log.Fatal().Msg("no interests; set INTERESTS to a comma separated list")
	}
	if err := coord.StartMatch(cfg.interests); err != nil {
		log.Fatal().Err(err).Msg("starting the search failed")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	coord.Shutdown()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// logTransition prints the phase changes and countdown the way the UI would
// render them.
func logTransition(log zerolog.Logger, snap match.Snapshot) {
	switch snap.Phase {
	case match.PhaseSearching:
		log.Info().Int("waiting", snap.WaitingCount).Msg("searching")
	case match.PhaseMatched:
		if snap.Partner != nil {
			log.Info().
				Str("partner", snap.Partner.Nickname).
				Strs("common_interests", snap.CommonInterests).
				Msg("match found")
		}
	case match.PhaseActive:
		reading := timer.For(snap.RemainingSeconds)
		switch {
		case reading.Urgent:
			log.Warn().Str("remaining", reading.Formatted).Bool("urgent", true).Msg("in call")
		case reading.Warning:
			log.Warn().Str("remaining", reading.Formatted).Bool("warning", true).Msg("in call")
		default:
			log.Info().Str("remaining", reading.Formatted).Msg("in call")
		}
	case match.PhaseEnded:
		log.Info().Str("reason", string(snap.EndReason)).Msg("call ended")
	}
}
