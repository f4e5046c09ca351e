package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Static is a Source that generates silent audio and black video samples. It
// exercises the full negotiation and track plumbing without any hardware,
// which is what the tests and headless development need.
type Static struct {
	audioOn atomic.Bool
	videoOn atomic.Bool

	mu     sync.Mutex
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	screen *webrtc.TrackLocalStaticSample
	done   chan struct{}
	once   sync.Once
}

func NewStatic() *Static {
	s := &Static{done: make(chan struct{})}
	s.audioOn.Store(true)
	s.videoOn.Store(true)
	return s
}

func (s *Static) Acquire(_ context.Context) ([]webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "vortexfit-static",
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "vortexfit-static",
	)
	if err != nil {
		return nil, err
	}
	s.audio = audio
	s.video = video

	go s.pump(audio, 20*time.Millisecond, 100, &s.audioOn)
	go s.pump(video, 33*time.Millisecond, 1000, &s.videoOn)

	return []webrtc.TrackLocal{audio, video}, nil
}

func (s *Static) AcquireScreen(_ context.Context) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"screen", "vortexfit-static",
	)
	if err != nil {
		return nil, err
	}
	s.screen = screen
	go s.pump(screen, 33*time.Millisecond, 1000, &s.videoOn)
	return screen, nil
}

// pump writes zeroed samples at a fixed cadence, skipping writes while the
// corresponding enabled flag is off.
func (s *Static) pump(track *webrtc.TrackLocalStaticSample, interval time.Duration, size int, enabled *atomic.Bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !enabled.Load() {
				continue
			}
			sample := media.Sample{Data: make([]byte, size), Duration: interval}
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}

func (s *Static) SetAudioEnabled(enabled bool) { s.audioOn.Store(enabled) }
func (s *Static) SetVideoEnabled(enabled bool) { s.videoOn.Store(enabled) }

func (s *Static) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *Static) NewPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(cfg)
}

func (s *Static) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
