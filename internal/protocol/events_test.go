package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid match:found event
// ---------------------------------------------------------------------------

func TestParseServerEvent_MatchFound(t *testing.T) {
	input := []byte(`{
		"type": "match:found",
		"sessionId": "s1",
		"partnerId": "p1",
		"partner": {"nickname": "Kim", "interests": ["movies"]},
		"commonInterests": ["movies"],
		"agoraChannelId": "ch1",
		"agoraToken": "tok"
	}`)

	msgType, msg, err := ParseServerEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMatchFound {
		t.Fatalf("expected type %q, got %q", TypeMatchFound, msgType)
	}

	mf, ok := msg.(MatchFoundMsg)
	if !ok {
		t.Fatalf("expected MatchFoundMsg, got %T", msg)
	}
	if mf.SessionID != "s1" {
		t.Errorf("expected sessionId %q, got %q", "s1", mf.SessionID)
	}
	if mf.PartnerID != "p1" {
		t.Errorf("expected partnerId %q, got %q", "p1", mf.PartnerID)
	}
	if mf.Partner.Nickname != "Kim" {
		t.Errorf("expected nickname %q, got %q", "Kim", mf.Partner.Nickname)
	}
	if len(mf.CommonInterests) != 1 || mf.CommonInterests[0] != "movies" {
		t.Errorf("unexpected common interests: %v", mf.CommonInterests)
	}
	if mf.ChannelID != "ch1" || mf.ChannelToken != "tok" {
		t.Errorf("unexpected channel credentials: %q / %q", mf.ChannelID, mf.ChannelToken)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a match:timer_sync event
// ---------------------------------------------------------------------------

func TestParseServerEvent_TimerSync(t *testing.T) {
	input := []byte(`{"type":"match:timer_sync","remainingSeconds":412}`)

	msgType, msg, err := ParseServerEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMatchTimerSync {
		t.Fatalf("expected type %q, got %q", TypeMatchTimerSync, msgType)
	}

	ts, ok := msg.(MatchTimerSyncMsg)
	if !ok {
		t.Fatalf("expected MatchTimerSyncMsg, got %T", msg)
	}
	if ts.RemainingSeconds != 412 {
		t.Errorf("expected remainingSeconds 412, got %d", ts.RemainingSeconds)
	}
}

// ---------------------------------------------------------------------------
// Test: Payload-less events decode to their empty structs
// ---------------------------------------------------------------------------

func TestParseServerEvent_PayloadlessEvents(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{`{"type":"match:cancelled"}`, TypeMatchCancelled},
		{`{"type":"match:timer_warning"}`, TypeMatchTimerWarning},
		{`{"type":"match:timer_end"}`, TypeMatchTimerEnd},
		{`{"type":"match:partner_left"}`, TypeMatchPartnerLeft},
	}
	for _, tc := range cases {
		msgType, msg, err := ParseServerEvent([]byte(tc.input))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.expected, err)
		}
		if msgType != tc.expected {
			t.Errorf("expected type %q, got %q", tc.expected, msgType)
		}
		if msg == nil {
			t.Errorf("%s: expected a decoded struct, got nil", tc.expected)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a match:start client event
// ---------------------------------------------------------------------------

func TestNewClientEvent_MatchStart(t *testing.T) {
	data, err := NewClientEvent(TypeMatchStart, MatchStartMsg{
		Interests: []string{"movies", "music"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMatchStart {
		t.Errorf("expected type %q, got %v", TypeMatchStart, result["type"])
	}
	interests, ok := result["interests"].([]interface{})
	if !ok {
		t.Fatalf("expected interests to be an array, got %T", result["interests"])
	}
	if len(interests) != 2 {
		t.Fatalf("expected 2 interests, got %d", len(interests))
	}
	if interests[0] != "movies" || interests[1] != "music" {
		t.Errorf("unexpected interests: %v", interests)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown event type returns an error
// ---------------------------------------------------------------------------

func TestParseServerEvent_UnknownType(t *testing.T) {
	input := []byte(`{"type":"match:accepted","data":"something"}`)

	msgType, msg, err := ParseServerEvent(input)
	if err == nil {
		t.Fatal("expected error for unknown event type, got nil")
	}
	if msgType != "match:accepted" {
		t.Errorf("expected type to be returned even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field is rejected
// ---------------------------------------------------------------------------

func TestParseServerEvent_MissingType(t *testing.T) {
	cases := []string{
		`{}`,
		`{"type":""}`,
		`{"remainingSeconds":10}`,
	}
	for _, input := range cases {
		if _, _, err := ParseServerEvent([]byte(input)); err == nil {
			t.Errorf("expected error for %s, got nil", input)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed JSON is rejected
// ---------------------------------------------------------------------------

func TestParseServerEvent_MalformedJSON(t *testing.T) {
	if _, _, err := ParseServerEvent([]byte(`{"type":"match:found"`)); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}
