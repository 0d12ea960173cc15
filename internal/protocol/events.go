// Package protocol defines the signaling event types exchanged with the
// matching backend over the realtime channel. All events are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeMatchStart  = "match:start"
	TypeMatchCancel = "match:cancel"
	TypeMatchLeave  = "match:leave"
	TypeUserOnline  = "user:online"
)

// Server -> Client event types.
const (
	TypeMatchSearching    = "match:searching"
	TypeMatchFound        = "match:found"
	TypeMatchCancelled    = "match:cancelled"
	TypeMatchTimerSync    = "match:timer_sync"
	TypeMatchTimerWarning = "match:timer_warning"
	TypeMatchTimerEnd     = "match:timer_end"
	TypeMatchPartnerLeft  = "match:partner_left"
	TypeMatchError        = "match:error"
)

// ---------------------------------------------------------------------------
// Envelope is the first-pass decode that extracts the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw event for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// MatchStartMsg is sent by the client to enter the matching queue with the
// selected interest tags.
type MatchStartMsg struct {
	Type      string   `json:"type"`
	Interests []string `json:"interests"`
}

// MatchCancelMsg is sent by the client to leave the matching queue.
type MatchCancelMsg struct {
	Type string `json:"type"`
}

// MatchLeaveMsg is sent by the client to leave the current call.
type MatchLeaveMsg struct {
	Type string `json:"type"`
}

// UserOnlineMsg announces the client's presence after (re)connecting.
type UserOnlineMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// MatchSearchingMsg is sent by the server while the client waits in the
// matching queue. The waiting count is advisory only.
type MatchSearchingMsg struct {
	Type         string `json:"type"`
	WaitingCount int    `json:"waitingCount"`
}

// Partner describes the matched peer as disclosed by the server.
type Partner struct {
	Nickname  string   `json:"nickname"`
	Interests []string `json:"interests"`
}

// MatchFoundMsg is sent by the server when a partner has been found. It
// carries everything the client needs to enter the call: the session record
// id, partner info, the server-computed interest intersection, and the
// single-use voice channel credentials.
type MatchFoundMsg struct {
	Type            string   `json:"type"`
	SessionID       string   `json:"sessionId"`
	PartnerID       string   `json:"partnerId"`
	Partner         Partner  `json:"partner"`
	CommonInterests []string `json:"commonInterests"`
	ChannelID       string   `json:"agoraChannelId"`
	ChannelToken    string   `json:"agoraToken"`
}

// MatchCancelledMsg confirms that the server removed the client from the
// matching queue.
type MatchCancelledMsg struct {
	Type string `json:"type"`
}

// MatchTimerSyncMsg carries the authoritative remaining call time. The client
// interpolates between sync ticks but the server value always wins.
type MatchTimerSyncMsg struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// MatchTimerWarningMsg is sent by the server when two minutes remain.
type MatchTimerWarningMsg struct {
	Type string `json:"type"`
}

// MatchTimerEndMsg is sent by the server when the call time is up.
type MatchTimerEndMsg struct {
	Type string `json:"type"`
}

// MatchPartnerLeftMsg is sent by the server when the partner left mid-call.
type MatchPartnerLeftMsg struct {
	Type string `json:"type"`
}

// MatchErrorMsg is sent by the server to communicate a matching error. A
// server-reported error always aborts the current attempt.
type MatchErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerEvent parses raw signaling bytes into a typed server event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// client-only event types.
func ParseServerEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMatchSearching:
		var m MatchSearchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchFound:
		var m MatchFoundMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchCancelled:
		var m MatchCancelledMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchTimerSync:
		var m MatchTimerSyncMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchTimerWarning:
		var m MatchTimerWarningMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchTimerEnd:
		var m MatchTimerEndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchPartnerLeft:
		var m MatchPartnerLeftMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchError:
		var m MatchErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewClientEvent creates a JSON-encoded byte slice for a client event. The
// msgType is injected into the payload under the "type" key. The payload
// should be one of the client event structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewClientEvent(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal client event: %w", err)
	}
	return out, nil
}
