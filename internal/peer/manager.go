// Package peer owns the media peer connection and its negotiation state
// machine: offer/answer handshake, ICE candidate exchange, local track
// lifecycle and coarse full-renegotiation retry.
package peer

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrNoSender is returned by ReplaceTrack when no sender carries the old track.
var ErrNoSender = errors.New("no sender carries the given track")

// maxPendingCandidates bounds the early-candidate buffer. Candidates arriving
// before the remote description is set are held here and flushed afterwards;
// anything beyond the cap is dropped, candidates being best-effort.
const maxPendingCandidates = 32

// Signaler is the only surface the peer package needs from the signaling
// layer. The concrete signaling.Client satisfies it; tests use a fake.
type Signaler interface {
	SendOffer(sessionID string, offer webrtc.SessionDescription, targetUserID string)
	SendAnswer(sessionID string, answer webrtc.SessionDescription, targetUserID string)
	SendIceCandidate(sessionID string, candidate webrtc.ICECandidateInit, targetUserID string)
}

// RemoteTrack is one received remote media track. A nil *RemoteTrack on the
// stream signals that the remote media disappeared (teardown).
type RemoteTrack struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Manager drives one peer connection at a time. It is recreated wholesale on
// retry; there is no incremental repair.
type Manager struct {
	signaler Signaler
	config   webrtc.Configuration

	mu           sync.Mutex
	newConn      func(webrtc.Configuration) (*webrtc.PeerConnection, error)
	pc           *webrtc.PeerConnection
	localTracks  []webrtc.TrackLocal
	pending      []webrtc.ICECandidateInit
	remoteSet    bool
	sessionID    string
	targetUserID string

	states chan webrtc.PeerConnectionState
	remote chan *RemoteTrack
}

func NewManager(signaler Signaler, stunServers []string) *Manager {
	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Manager{
		signaler: signaler,
		config:   config,
		newConn:  webrtc.NewPeerConnection,
		states:   make(chan webrtc.PeerConnectionState, 32),
		remote:   make(chan *RemoteTrack, 8),
	}
}

// SetConnectionFactory replaces how the underlying peer connection is built.
// A media source with its own codec engine (mediadevices) installs its factory
// here before negotiation starts. A nil factory is ignored.
func (m *Manager) SetConnectionFactory(factory func(webrtc.Configuration) (*webrtc.PeerConnection, error)) {
	if factory == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newConn = factory
}

// States returns the connection-state stream; one value per underlying
// transition plus a final closed on teardown.
func (m *Manager) States() <-chan webrtc.PeerConnectionState {
	return m.states
}

// RemoteTracks returns the remote media stream; nil means the remote media is
// gone.
func (m *Manager) RemoteTracks() <-chan *RemoteTrack {
	return m.remote
}

// SetLocalTracks stores the local media tracks and, if a connection already
// exists, attaches them immediately. Supports media acquired before or after
// connection creation.
func (m *Manager) SetLocalTracks(tracks ...webrtc.TrackLocal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localTracks = tracks
	if m.pc == nil {
		return
	}
	for _, t := range tracks {
		if err := m.attachTrackLocked(t); err != nil {
			log.Printf("PEER: attach %s track: %v", t.Kind(), err)
		}
	}
}

// InitializeAsCaller creates a fresh peer connection, attaches local media,
// produces the offer and hands it to the signaler. The error return is
// attempt-fatal: the orchestrator surfaces it and may retry with a new call.
func (m *Manager) InitializeAsCaller(sessionID, targetUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.newConnectionLocked(sessionID, targetUserID); err != nil {
		return err
	}

	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	m.signaler.SendOffer(sessionID, offer, targetUserID)
	return nil
}

// InitializeAsCallee creates a fresh peer connection, applies the remote
// offer and sends back the answer. fromUserID becomes the target for all
// subsequent outgoing candidates.
func (m *Manager) InitializeAsCallee(offer webrtc.SessionDescription, sessionID, fromUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.newConnectionLocked(sessionID, fromUserID); err != nil {
		return err
	}

	if err := m.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	m.remoteSet = true
	m.flushPendingLocked()

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	m.signaler.SendAnswer(sessionID, answer, fromUserID)
	return nil
}

// HandleAnswer applies the remote answer. A stray answer after teardown is
// logged and ignored; it must not crash a call that no longer exists.
func (m *Manager) HandleAnswer(answer webrtc.SessionDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		log.Printf("PEER: answer received with no active connection, ignored")
		return
	}
	if err := m.pc.SetRemoteDescription(answer); err != nil {
		log.Printf("PEER: set remote answer: %v", err)
		return
	}
	m.remoteSet = true
	m.flushPendingLocked()
}

// HandleIceCandidate adds a remote candidate, buffering it when the remote
// description is not yet set. Individual candidate failures are swallowed:
// candidates are best-effort and may race teardown.
func (m *Manager) HandleIceCandidate(candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil || !m.remoteSet {
		if len(m.pending) < maxPendingCandidates {
			m.pending = append(m.pending, candidate)
		} else {
			log.Printf("PEER: candidate buffer full, dropped")
		}
		return
	}
	if err := m.pc.AddICECandidate(candidate); err != nil {
		log.Printf("PEER: add candidate: %v", err)
	}
}

// RemoteDescription returns the currently applied remote description, nil when
// no connection exists or none has been set.
func (m *Manager) RemoteDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return nil
	}
	return m.pc.RemoteDescription()
}

// ReplaceTrack swaps the outgoing track on the sender currently carrying
// oldTrack without renegotiating. Returns ErrNoSender when no sender carries
// oldTrack.
func (m *Manager) ReplaceTrack(oldTrack, newTrack webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		return nil, ErrNoSender
	}
	for _, sender := range m.pc.GetSenders() {
		if sender.Track() == oldTrack {
			if err := sender.ReplaceTrack(newTrack); err != nil {
				return nil, fmt.Errorf("replace track: %w", err)
			}
			return sender, nil
		}
	}
	return nil, ErrNoSender
}

// RetryConnection closes the current connection and re-runs the full
// caller-side initialization with the remembered session and target. Coarse
// full renegotiation; no partial recovery is attempted.
func (m *Manager) RetryConnection() error {
	m.mu.Lock()
	sessionID, targetUserID := m.sessionID, m.targetUserID
	m.closeLocked(false)
	m.mu.Unlock()

	if sessionID == "" || targetUserID == "" {
		return errors.New("no previous attempt to retry")
	}
	log.Printf("PEER: retrying connection for session %s", sessionID)
	return m.InitializeAsCaller(sessionID, targetUserID)
}

// EndCall tears the connection down, publishes the closed state and a nil
// remote track, and forgets the remembered session. Idempotent.
func (m *Manager) EndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil && m.sessionID == "" {
		return
	}
	m.closeLocked(true)
	m.sessionID = ""
	m.targetUserID = ""
	m.pushState(webrtc.PeerConnectionStateClosed)
	m.pushRemote(nil)
}

func (m *Manager) closeLocked(quiet bool) {
	if m.pc != nil {
		if err := m.pc.Close(); err != nil && !quiet {
			log.Printf("PEER: close: %v", err)
		}
		m.pc = nil
	}
	m.remoteSet = false
	m.pending = nil
}

func (m *Manager) newConnectionLocked(sessionID, targetUserID string) error {
	m.closeLocked(true)
	m.sessionID = sessionID
	m.targetUserID = targetUserID

	pc, err := m.newConn(m.config)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	m.pc = pc

	// Locally gathered candidates are pushed to the signaler as they appear.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.signaler.SendIceCandidate(sessionID, c.ToJSON(), targetUserID)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("PEER: remote %s track %s", track.Kind(), track.ID())
		m.pushRemote(&RemoteTrack{Track: track, Receiver: receiver})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("PEER: connection state %s", state)
		m.pushState(state)
	})

	var haveAudio, haveVideo bool
	for _, t := range m.localTracks {
		if err := m.attachTrackLocked(t); err != nil {
			return fmt.Errorf("attach %s track: %w", t.Kind(), err)
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			haveAudio = true
		case webrtc.RTPCodecTypeVideo:
			haveVideo = true
		}
	}

	// Recvonly transceivers keep the SDP valid for the directions we do not
	// send, so both peers always negotiate audio and video m-lines.
	if !haveAudio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	if !haveVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
	}

	return nil
}

func (m *Manager) attachTrackLocked(track webrtc.TrackLocal) error {
	sender, err := m.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// Drain RTCP so interceptors (NACK, PLI) keep working.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()
	return nil
}

func (m *Manager) flushPendingLocked() {
	for _, candidate := range m.pending {
		if err := m.pc.AddICECandidate(candidate); err != nil {
			log.Printf("PEER: add buffered candidate: %v", err)
		}
	}
	m.pending = nil
}

func (m *Manager) pushState(state webrtc.PeerConnectionState) {
	select {
	case m.states <- state:
	default:
		log.Printf("PEER: state stream full, dropped %s", state)
	}
}

func (m *Manager) pushRemote(rt *RemoteTrack) {
	select {
	case m.remote <- rt:
	default:
	}
}
