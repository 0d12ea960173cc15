// Package voice bridges the match state machine to the lifecycle of an
// external realtime audio transport. The transport itself (the vendor SDK)
// is treated as a black box behind the Transport interface; this package owns
// credential fetching, join retries, mute state and teardown.
package voice

import "context"

// VolumeLevel is one participant's reported speaking volume.
type VolumeLevel struct {
	UID   uint32
	Level int
}

// Transport is the capability surface this package needs from a realtime
// audio SDK. Production embedders supply a binding to their SDK; headless
// clients use NopTransport; tests use a fake.
type Transport interface {
	// Join enters the named channel with single-use credentials.
	Join(ctx context.Context, channelID, token string, uid uint32) error

	// PublishMicrophone creates and publishes the local microphone audio
	// track.
	PublishMicrophone(ctx context.Context) error

	// SetMicEnabled flips the publish-enabled state of the local track.
	SetMicEnabled(enabled bool)

	// SubscribeAudio subscribes to a remote participant's audio track and
	// plays it.
	SubscribeAudio(ctx context.Context, uid uint32) error

	// Leave exits the channel and releases the local track. Implementations
	// must tolerate being called when never joined.
	Leave(ctx context.Context) error

	// OnRemotePublished registers the callback invoked when a remote
	// participant publishes a track.
	OnRemotePublished(fn func(uid uint32, mediaType string))

	// EnableVolumeIndicator turns on periodic volume reports for all
	// participants.
	EnableVolumeIndicator(fn func(levels []VolumeLevel))
}

// NopTransport is a Transport that carries no audio. It lets headless
// clients (the CLI, load drivers) exercise the full matching flow without a
// microphone or speaker.
type NopTransport struct{}

func (NopTransport) Join(context.Context, string, string, uint32) error { return nil }
func (NopTransport) PublishMicrophone(context.Context) error            { return nil }
func (NopTransport) SetMicEnabled(bool)                                 {}
func (NopTransport) SubscribeAudio(context.Context, uint32) error       { return nil }
func (NopTransport) Leave(context.Context) error                        { return nil }
func (NopTransport) OnRemotePublished(func(uint32, string))             {}
func (NopTransport) EnableVolumeIndicator(func([]VolumeLevel))          {}
