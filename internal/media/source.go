// Package media acquires local camera, microphone and screen capture tracks
// behind a small Source interface. The mediadevices implementation captures
// real hardware on linux; Static generates synthetic samples for tests and
// headless development.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Source supplies the local media a call sends. One Source belongs to exactly
// one call; Close releases the capture hardware.
type Source interface {
	// Acquire opens camera and microphone and returns the local tracks.
	// Failing here is fatal for the call attempt; no automatic retry.
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)

	// AcquireScreen opens display capture and returns a video track suitable
	// for ReplaceTrack-based screen sharing.
	AcquireScreen(ctx context.Context) (webrtc.TrackLocal, error)

	// SetAudioEnabled and SetVideoEnabled flip the mute state of the local
	// tracks without renegotiation.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// VideoTrack returns the camera track after Acquire, nil before.
	VideoTrack() webrtc.TrackLocal

	// NewPeerConnection builds a peer connection whose media engine matches
	// the codecs this source produces.
	NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error)

	// Close stops capture and releases devices. Idempotent.
	Close() error
}
