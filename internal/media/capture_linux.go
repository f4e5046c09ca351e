//go:build linux

package media

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/webrtc/v4"
)

// Capture is the hardware-backed Source: camera and microphone via V4L2 and
// malgo, display capture for screen share, VP8 + Opus encoding.
type Capture struct {
	selector *mediadevices.CodecSelector

	mu      sync.Mutex
	stream  mediadevices.MediaStream
	display mediadevices.MediaStream
	video   webrtc.TrackLocal
	closed  bool
}

func NewCapture() (*Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Capture{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire opens camera and microphone. GetUserMedia fails as a unit if either
// track cannot be opened, so try video+audio first, then video-only, then
// audio-only; a busy microphone should not prevent the camera from working.
func (c *Capture) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}

	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {}
		}
		if a.audio {
			constraints.Audio = func(mt *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("MEDIA: %s capture failed: %v", a.label, err)
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.stream = stream
		tracks := make([]webrtc.TrackLocal, 0, 2)
		for _, t := range stream.GetTracks() {
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				c.video = t
			}
			tracks = append(tracks, t)
		}
		c.mu.Unlock()

		log.Printf("MEDIA: captured %s", a.label)
		return tracks, nil
	}

	return nil, fmt.Errorf("local media unavailable: %w", lastErr)
}

func (c *Capture) AcquireScreen(_ context.Context) (webrtc.TrackLocal, error) {
	display, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mt *mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("display capture: %w", err)
	}

	tracks := display.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("display capture produced no video track")
	}

	c.mu.Lock()
	c.display = display
	c.mu.Unlock()
	return tracks[0], nil
}

// TODO: pause the underlying driver instead of only flagging; mediadevices has
// no per-track enable switch, so a disabled track currently keeps encoding.
func (c *Capture) SetAudioEnabled(enabled bool) {
	log.Printf("MEDIA: audio enabled=%v", enabled)
}

func (c *Capture) SetVideoEnabled(enabled bool) {
	log.Printf("MEDIA: video enabled=%v", enabled)
}

func (c *Capture) VideoTrack() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// NewPeerConnection builds a peer connection whose media engine carries the
// codecs this capture encodes, with default interceptors and generous ICE
// timeouts so a brief relay hiccup does not terminate the call.
func (c *Capture) NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	c.selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return api.NewPeerConnection(cfg)
}

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.stream != nil {
		for _, t := range c.stream.GetTracks() {
			if err := t.Close(); err != nil {
				log.Printf("MEDIA: close track: %v", err)
			}
		}
	}
	if c.display != nil {
		for _, t := range c.display.GetTracks() {
			if err := t.Close(); err != nil {
				log.Printf("MEDIA: close display track: %v", err)
			}
		}
	}
	return nil
}
