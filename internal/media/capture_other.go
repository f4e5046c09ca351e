//go:build !linux

package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Capture is only implemented for linux (V4L2 + malgo). Other platforms get a
// Source that always fails to acquire, so callers fall back to Static or
// surface a clear error.
type Capture struct{}

var errUnsupported = errors.New("hardware media capture is only supported on linux")

func NewCapture() (*Capture, error) {
	return &Capture{}, nil
}

func (c *Capture) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	return nil, errUnsupported
}

func (c *Capture) AcquireScreen(_ context.Context) (webrtc.TrackLocal, error) {
	return nil, errUnsupported
}

func (c *Capture) SetAudioEnabled(bool) {}
func (c *Capture) SetVideoEnabled(bool) {}

func (c *Capture) VideoTrack() webrtc.TrackLocal { return nil }

func (c *Capture) NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(cfg)
}

func (c *Capture) Close() error { return nil }
