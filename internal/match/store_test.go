package match

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return NewStore(clock), clock
}

func testFound() Found {
	return Found{
		SessionID:       "s1",
		PartnerID:       "p1",
		Partner:         Partner{Nickname: "Kim", Interests: []string{"movies"}},
		CommonInterests: []string{"movies"},
		ChannelID:       "ch1",
		ChannelToken:    "tok",
	}
}

// checkSessionInvariant verifies that partner and session id are populated
// exactly in the in-call phases.
func checkSessionInvariant(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.Phase.InCall() {
		if snap.Partner == nil || snap.SessionID == "" {
			t.Fatalf("phase %s: expected partner and session id to be set", snap.Phase)
		}
	} else {
		if snap.Partner != nil || snap.SessionID != "" {
			t.Fatalf("phase %s: expected no partner/session id, got %v / %q",
				snap.Phase, snap.Partner, snap.SessionID)
		}
	}
	if (snap.EndReason != EndReasonNone) != (snap.Phase == PhaseEnded) {
		t.Fatalf("phase %s: end reason %q violates the ended-only invariant",
			snap.Phase, snap.EndReason)
	}
}

func TestStore_InitialState(t *testing.T) {
	store, _ := newTestStore(t)

	snap := store.Snapshot()
	if snap.Phase != PhaseIdle {
		t.Fatalf("expected initial phase idle, got %s", snap.Phase)
	}
	if snap.RemainingSeconds != CallSeconds {
		t.Errorf("expected %d remaining seconds, got %d", CallSeconds, snap.RemainingSeconds)
	}
	checkSessionInvariant(t, snap)
}

func TestStore_StartSearching(t *testing.T) {
	store, clock := newTestStore(t)

	store.SetSelectedInterests([]string{"movies", "music", "travel"})
	store.StartSearching()

	snap := store.Snapshot()
	if snap.Phase != PhaseSearching {
		t.Fatalf("expected phase searching, got %s", snap.Phase)
	}
	if !snap.SearchStartedAt.Equal(clock.Now()) {
		t.Errorf("expected search start time %v, got %v", clock.Now(), snap.SearchStartedAt)
	}
	if len(snap.SelectedInterests) != 3 {
		t.Errorf("expected 3 selected interests, got %d", len(snap.SelectedInterests))
	}
	checkSessionInvariant(t, snap)

	// Waiting count is advisory and updatable while searching.
	store.SetWaitingCount(12)
	if got := store.Snapshot().WaitingCount; got != 12 {
		t.Errorf("expected waiting count 12, got %d", got)
	}
}

func TestStore_SetMatchFound(t *testing.T) {
	store, _ := newTestStore(t)
	store.StartSearching()

	// Simulate a drifted countdown from a previous session.
	store.SetRemainingSeconds(37)
	store.SetMatchFound(testFound())

	snap := store.Snapshot()
	if snap.Phase != PhaseMatched {
		t.Fatalf("expected phase matched, got %s", snap.Phase)
	}
	if snap.SessionID != "s1" || snap.PartnerID != "p1" {
		t.Errorf("unexpected session/partner ids: %q / %q", snap.SessionID, snap.PartnerID)
	}
	if snap.Partner == nil || snap.Partner.Nickname != "Kim" {
		t.Errorf("unexpected partner: %+v", snap.Partner)
	}
	if snap.ChannelID != "ch1" || snap.ChannelToken != "tok" {
		t.Errorf("unexpected channel credentials: %q / %q", snap.ChannelID, snap.ChannelToken)
	}
	if snap.RemainingSeconds != CallSeconds {
		t.Errorf("expected countdown reset to %d, got %d", CallSeconds, snap.RemainingSeconds)
	}
	checkSessionInvariant(t, snap)
}

func TestStore_SetEnded(t *testing.T) {
	cases := []struct {
		name   string
		reason EndReason
	}{
		{"timer", EndReasonTimer},
		{"partner left", EndReasonPartnerLeft},
		{"self left", EndReasonSelfLeft},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			store.StartSearching()
			store.SetMatchFound(testFound())
			store.SetPhase(PhaseActive)

			store.SetEnded(tc.reason)

			snap := store.Snapshot()
			if snap.Phase != PhaseEnded {
				t.Fatalf("expected phase ended, got %s", snap.Phase)
			}
			if snap.EndReason != tc.reason {
				t.Errorf("expected end reason %q, got %q", tc.reason, snap.EndReason)
			}
			// Session fields survive into ended for rating and reporting.
			checkSessionInvariant(t, snap)
		})
	}
}

// Reset from any phase yields the initial state, and a second reset is a
// no-op.
func TestStore_ResetIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	initial := store.Snapshot()

	store.SetSelectedInterests([]string{"movies"})
	store.StartSearching()
	store.SetWaitingCount(4)
	store.SetMatchFound(testFound())
	store.SetPhase(PhaseActive)
	store.SetRemainingSeconds(17)
	store.SetMuted(true)
	store.SetEnded(EndReasonTimer)

	store.Reset()
	first := store.Snapshot()
	store.Reset()
	second := store.Snapshot()

	for _, snap := range []Snapshot{first, second} {
		if snap.Phase != initial.Phase ||
			snap.EndReason != initial.EndReason ||
			snap.SessionID != initial.SessionID ||
			snap.Partner != nil ||
			snap.ChannelID != "" ||
			snap.ChannelToken != "" ||
			snap.RemainingSeconds != CallSeconds ||
			snap.Muted ||
			snap.WaitingCount != 0 ||
			!snap.SearchStartedAt.IsZero() ||
			len(snap.SelectedInterests) != 0 {
			t.Fatalf("reset did not restore defaults: %+v", snap)
		}
		checkSessionInvariant(t, snap)
	}
}

func TestStore_SetRemainingSecondsClampsAtZero(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetRemainingSeconds(-5)
	if got := store.Snapshot().RemainingSeconds; got != 0 {
		t.Fatalf("expected countdown clamped at 0, got %d", got)
	}
}

// The invariant holds across a whole scripted lifecycle: no intermediate
// state ever reports a half-populated session.
func TestStore_InvariantAcrossLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	store.Subscribe(func(snap Snapshot) {
		checkSessionInvariant(t, snap)
	})

	store.SetSelectedInterests([]string{"movies", "music"})
	store.StartSearching()
	store.SetWaitingCount(2)
	store.SetMatchFound(testFound())
	store.SetPhase(PhaseActive)
	store.SetRemainingSeconds(599)
	store.SetMuted(true)
	store.SetEnded(EndReasonPartnerLeft)
	store.Reset()
}

func TestStore_ListenersObserveMutations(t *testing.T) {
	store, _ := newTestStore(t)

	var phases []Phase
	store.Subscribe(func(snap Snapshot) {
		phases = append(phases, snap.Phase)
	})

	store.StartSearching()
	store.SetMatchFound(testFound())
	store.SetPhase(PhaseActive)
	store.SetEnded(EndReasonTimer)
	store.Reset()

	want := []Phase{PhaseSearching, PhaseMatched, PhaseActive, PhaseEnded, PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("expected %d notifications, got %d (%v)", len(want), len(phases), phases)
	}
	for i, p := range want {
		if phases[i] != p {
			t.Errorf("notification[%d]: expected %s, got %s", i, p, phases[i])
		}
	}
}

// Snapshots are copies: mutating a returned slice must not leak back into the
// store.
func TestStore_SnapshotIsolation(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetMatchFound(testFound())

	snap := store.Snapshot()
	snap.CommonInterests[0] = "tampered"
	snap.Partner.Nickname = "tampered"

	fresh := store.Snapshot()
	if fresh.CommonInterests[0] != "movies" {
		t.Errorf("common interests leaked: %v", fresh.CommonInterests)
	}
	if fresh.Partner.Nickname != "Kim" {
		t.Errorf("partner leaked: %+v", fresh.Partner)
	}
}

func TestStore_SearchStartTimeAdvancesWithClock(t *testing.T) {
	store, clock := newTestStore(t)

	store.StartSearching()
	first := store.Snapshot().SearchStartedAt

	clock.Advance(42 * time.Second)
	store.Reset()
	store.StartSearching()
	second := store.Snapshot().SearchStartedAt

	if !second.Equal(first.Add(42 * time.Second)) {
		t.Fatalf("expected second search start 42s after first, got %v and %v", first, second)
	}
}
