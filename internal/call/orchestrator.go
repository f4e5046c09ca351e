// Package call is the per-call state machine visible to the UI. It ties the
// signaling client and the peer connection manager together: acquires local
// media, decides the caller/callee role from the session record, drives the
// approval handshake and exposes the in-call controls.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vighneshvikky/vortexfit-rtc/internal/media"
	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/peer"
	"github.com/vighneshvikky/vortexfit-rtc/internal/signaling"
)

// Orchestrator runs exactly one call. Create a fresh one per attempt.
type Orchestrator struct {
	role         Role
	userID       string
	remoteUserID string
	sessionID    string

	sig    *signaling.Client
	peers  *peer.Manager
	source media.Source
	cfg    Config

	cmds    chan func()
	done    chan struct{}
	endOnce sync.Once

	mu          sync.Mutex
	status      Status
	approvals   []string
	waitTimer   *time.Timer
	waitGen     int
	errTimer    *time.Timer
	durTicker   *time.Ticker
	startedAt   time.Time
	cameraTrack webrtc.TrackLocal
	screenTrack webrtc.TrackLocal

	updates chan Status
}

// New builds an orchestrator for the given session. The local user must be one
// of the session's two participants; the role follows from which one.
func New(session models.Session, userID string, sig *signaling.Client, peers *peer.Manager, source media.Source, cfg Config) (*Orchestrator, error) {
	o := &Orchestrator{
		userID:    userID,
		sessionID: session.ID,
		sig:       sig,
		peers:     peers,
		source:    source,
		cfg:       cfg,
		cmds:      make(chan func(), 16),
		done:      make(chan struct{}),
		updates:   make(chan Status, 64),
	}

	switch userID {
	case session.TrainerID:
		o.role = RoleTrainer
		o.remoteUserID = session.UserID
	case session.UserID:
		o.role = RoleUser
		o.remoteUserID = session.TrainerID
	default:
		return nil, fmt.Errorf("user %s is not a participant of session %s", userID, session.ID)
	}

	o.status = Status{State: StateIdle, Role: o.role}
	return o, nil
}

// Start acquires local media, connects signaling and, in the user role, sends
// the join request. A media acquisition failure fails the whole call; the user
// must explicitly start a new attempt.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setStatus(func(s *Status) { s.State = StateAcquiringMedia })

	tracks, err := o.source.Acquire(ctx)
	if err != nil {
		o.setStatus(func(s *Status) {
			s.State = StateError
			s.ErrorMessage = "Could not access camera or microphone."
		})
		return fmt.Errorf("acquire media: %w", err)
	}

	o.mu.Lock()
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			o.cameraTrack = t
		}
	}
	o.mu.Unlock()

	o.peers.SetConnectionFactory(o.source.NewPeerConnection)
	o.peers.SetLocalTracks(tracks...)

	if err := o.sig.Connect(o.userID, o.sessionID); err != nil {
		o.setStatus(func(s *Status) {
			s.State = StateError
			s.ErrorMessage = "Could not reach the call server."
		})
		return fmt.Errorf("connect signaling: %w", err)
	}

	o.setStatus(func(s *Status) {
		s.State = StateSignalingConnected
		s.HasLocalStream = true
		s.MicrophoneOn = true
		s.CameraOn = true
	})

	go o.run()

	if o.role == RoleUser {
		// State first: the approval can race the join request's round trip.
		o.setStatus(func(s *Status) { s.State = StateAwaitingApproval })
		o.startWait("approval", o.cfg.ApprovalTimeout)
		o.sig.Send(models.SignalingMessage{
			Type:      models.SignalTypeJoinRequest,
			SessionID: o.sessionID,
			To:        o.remoteUserID,
		})
	} else {
		o.setStatus(func(s *Status) { s.State = StateAwaitingJoinRequest })
	}
	return nil
}

// Updates returns the stream of status snapshots for UI binding.
func (o *Orchestrator) Updates() <-chan Status {
	return o.updates
}

// Snapshot returns the current status.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ApproveUser approves the pending join request at the head of the queue,
// sends the approval and starts the caller-side negotiation. Trainer role only.
func (o *Orchestrator) ApproveUser() {
	o.post(func() {
		target, ok := o.popApproval()
		if !ok {
			log.Printf("CALL [%s]: approve with no pending request", o.sessionID)
			return
		}

		o.sig.Send(models.SignalingMessage{
			Type:      models.SignalTypeApproval,
			SessionID: o.sessionID,
			To:        target,
		})

		if err := o.peers.InitializeAsCaller(o.sessionID, target); err != nil {
			log.Printf("CALL [%s]: caller init: %v", o.sessionID, err)
			o.shutdown(StateError, "Could not start the call.")
			return
		}
		o.setStatus(func(s *Status) {
			s.State = StateNegotiating
			s.IsConnecting = true
		})
		o.startWait("answer", o.cfg.AnswerTimeout)
	})
}

// RejectUser declines the pending join request at the head of the queue. The
// trainer's own signaling connection stays up; a future request can still be
// accepted.
func (o *Orchestrator) RejectUser() {
	o.post(func() {
		target, ok := o.popApproval()
		if !ok {
			return
		}
		data, _ := json.Marshal(models.RejectionPayload{Reason: rejectionReason})
		o.sig.Send(models.SignalingMessage{
			Type:      models.SignalTypeRejection,
			SessionID: o.sessionID,
			To:        target,
			Data:      data,
		})
		log.Printf("CALL [%s]: rejected join request from %s", o.sessionID, target)
	})
}

// RetryConnection re-runs the full negotiation after a failed or disconnected
// state. User-triggered only; never automatic.
func (o *Orchestrator) RetryConnection() {
	o.post(func() {
		if err := o.peers.RetryConnection(); err != nil {
			o.reportError("Retry failed. Please end the call and start again.")
			return
		}
		o.setStatus(func(s *Status) {
			s.State = StateNegotiating
			s.IsConnecting = true
			s.ErrorMessage = ""
		})
		o.startWait("answer", o.cfg.AnswerTimeout)
	})
}

// ToggleMicrophone flips the local audio mute and returns the new on state.
func (o *Orchestrator) ToggleMicrophone() bool {
	var on bool
	o.setStatus(func(s *Status) {
		s.MicrophoneOn = !s.MicrophoneOn
		on = s.MicrophoneOn
	})
	o.source.SetAudioEnabled(on)
	return on
}

// ToggleCamera flips the local video mute and returns the new on state.
func (o *Orchestrator) ToggleCamera() bool {
	var on bool
	o.setStatus(func(s *Status) {
		s.CameraOn = !s.CameraOn
		on = s.CameraOn
	})
	o.source.SetVideoEnabled(on)
	return on
}

// StartScreenShare swaps the outgoing camera track for a display-capture
// track. The connection is not renegotiated.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	o.mu.Lock()
	sharing := o.status.ScreenSharing
	camera := o.cameraTrack
	o.mu.Unlock()
	if sharing {
		return nil
	}
	if camera == nil {
		return errors.New("no camera track to replace")
	}

	track, err := o.source.AcquireScreen(ctx)
	if err != nil {
		o.reportError("Could not start screen sharing.")
		return err
	}
	if _, err := o.peers.ReplaceTrack(camera, track); err != nil {
		o.reportError("Could not start screen sharing.")
		return err
	}

	o.mu.Lock()
	o.screenTrack = track
	o.mu.Unlock()
	o.setStatus(func(s *Status) { s.ScreenSharing = true })
	return nil
}

// StopScreenShare restores the camera track.
func (o *Orchestrator) StopScreenShare() error {
	o.mu.Lock()
	sharing := o.status.ScreenSharing
	camera := o.cameraTrack
	screen := o.screenTrack
	o.screenTrack = nil
	o.mu.Unlock()
	if !sharing {
		return nil
	}

	if _, err := o.peers.ReplaceTrack(screen, camera); err != nil {
		o.reportError("Could not stop screen sharing.")
		return err
	}
	o.setStatus(func(s *Status) { s.ScreenSharing = false })
	return nil
}

// EndCall tears everything down: peer connection, room membership, signaling
// reference and local media. Safe to call from any state, idempotent.
func (o *Orchestrator) EndCall() {
	o.shutdown(StateEnded, "")
}

func (o *Orchestrator) run() {
	msgs := o.sig.Messages()
	states := o.peers.States()
	remotes := o.peers.RemoteTracks()

	for {
		o.mu.Lock()
		var tick <-chan time.Time
		if o.durTicker != nil {
			tick = o.durTicker.C
		}
		o.mu.Unlock()

		select {
		case <-o.done:
			return

		case fn := <-o.cmds:
			fn()

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			o.dispatch(msg)

		case state := <-states:
			o.onPeerState(state)

		case rt := <-remotes:
			o.setStatus(func(s *Status) { s.HasRemoteStream = rt != nil })

		case <-tick:
			o.mu.Lock()
			startedAt := o.startedAt
			o.mu.Unlock()
			o.setStatus(func(s *Status) {
				s.CallDuration = time.Since(startedAt).Truncate(time.Second)
			})
		}
	}
}

// dispatch routes one inbound signaling message by type.
func (o *Orchestrator) dispatch(msg models.SignalingMessage) {
	if msg.From == o.userID || o.Snapshot().State.terminal() {
		return
	}

	switch msg.Type {
	case models.SignalTypeJoinRequest:
		if o.role != RoleTrainer {
			return
		}
		o.onJoinRequest(msg.From)

	case models.SignalTypeApproval:
		if o.role != RoleUser {
			return
		}
		o.stopWait()
		o.setStatus(func(s *Status) {
			s.State = StateNegotiating
			s.IsConnecting = true
		})
		// The trainer's offer arrives separately once approved.
		o.startWait("offer", o.cfg.AnswerTimeout)

	case models.SignalTypeOffer:
		o.stopWait()
		offer, err := decodeSDP(msg.Data)
		if err != nil {
			log.Printf("CALL [%s]: bad offer payload: %v", o.sessionID, err)
			return
		}
		if err := o.peers.InitializeAsCallee(offer, msg.SessionID, msg.From); err != nil {
			log.Printf("CALL [%s]: callee init: %v", o.sessionID, err)
			o.shutdown(StateError, "Could not answer the call.")
			return
		}
		o.setStatus(func(s *Status) {
			s.State = StateNegotiating
			s.IsConnecting = true
		})

	case models.SignalTypeAnswer:
		o.stopWait()
		answer, err := decodeSDP(msg.Data)
		if err != nil {
			log.Printf("CALL [%s]: bad answer payload: %v", o.sessionID, err)
			return
		}
		o.peers.HandleAnswer(answer)

	case models.SignalTypeCandidate:
		candidate, err := decodeCandidate(msg.Data)
		if err != nil {
			log.Printf("CALL [%s]: bad candidate payload: %v", o.sessionID, err)
			return
		}
		o.peers.HandleIceCandidate(candidate)

	case models.SignalTypeRejection:
		reason := rejectionReason
		var p models.RejectionPayload
		if err := json.Unmarshal(msg.Data, &p); err == nil && p.Reason != "" {
			reason = p.Reason
		}
		o.shutdown(StateEnded, reason)

	default:
		log.Printf("CALL [%s]: unknown signal type %q", o.sessionID, msg.Type)
	}
}

func (o *Orchestrator) onJoinRequest(from string) {
	if from == "" {
		return
	}
	o.mu.Lock()
	for _, pending := range o.approvals {
		if pending == from {
			o.mu.Unlock()
			return
		}
	}
	o.approvals = append(o.approvals, from)
	o.mu.Unlock()

	log.Printf("CALL [%s]: join request from %s", o.sessionID, from)
	o.refreshPending()
}

func (o *Orchestrator) popApproval() (string, bool) {
	o.mu.Lock()
	if len(o.approvals) == 0 {
		o.mu.Unlock()
		return "", false
	}
	target := o.approvals[0]
	o.approvals = o.approvals[1:]
	o.mu.Unlock()

	o.refreshPending()
	return target, true
}

func (o *Orchestrator) refreshPending() {
	o.mu.Lock()
	head := ""
	if len(o.approvals) > 0 {
		head = o.approvals[0]
	}
	count := len(o.approvals)
	o.mu.Unlock()

	o.setStatus(func(s *Status) {
		s.PendingUserID = head
		s.PendingCount = count
	})
}

func (o *Orchestrator) onPeerState(state webrtc.PeerConnectionState) {
	if o.Snapshot().State.terminal() {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		o.stopWait()
		o.mu.Lock()
		if o.durTicker == nil {
			o.startedAt = time.Now()
			o.durTicker = time.NewTicker(time.Second)
		}
		o.mu.Unlock()
		o.setStatus(func(s *Status) {
			s.State = StateConnected
			s.IsConnecting = false
			s.ErrorMessage = ""
		})

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		switch o.Snapshot().State {
		case StateNegotiating, StateConnected, StateReconnecting:
			// The banner offers a retry; a still-armed answer timer would
			// terminate the call out from under that offer. Retry re-arms it.
			o.stopWait()
			o.setStatus(func(s *Status) {
				s.State = StateReconnecting
				s.IsConnecting = true
				s.ErrorMessage = "Connection lost. You can retry the connection."
			})
		}
	}
}

// shutdown performs the single teardown. The first caller decides the final
// state; later calls are no-ops.
func (o *Orchestrator) shutdown(final State, message string) {
	o.endOnce.Do(func() {
		o.peers.EndCall()
		o.sig.LeaveRoom(o.sessionID, o.userID)
		o.sig.Close()
		if err := o.source.Close(); err != nil {
			log.Printf("CALL [%s]: close media: %v", o.sessionID, err)
		}

		o.mu.Lock()
		if o.waitTimer != nil {
			o.waitTimer.Stop()
			o.waitTimer = nil
		}
		if o.errTimer != nil {
			o.errTimer.Stop()
			o.errTimer = nil
		}
		if o.durTicker != nil {
			o.durTicker.Stop()
			o.durTicker = nil
		}
		o.mu.Unlock()

		o.setStatus(func(s *Status) {
			s.State = final
			s.IsConnecting = false
			s.HasRemoteStream = false
			s.ErrorMessage = message
		})
		close(o.done)
		log.Printf("CALL [%s]: ended (%s)", o.sessionID, final)
	})
}

// reportError surfaces a non-terminal error message that clears on its own.
func (o *Orchestrator) reportError(message string) {
	o.setStatus(func(s *Status) { s.ErrorMessage = message })

	o.mu.Lock()
	if o.errTimer != nil {
		o.errTimer.Stop()
	}
	o.errTimer = time.AfterFunc(errorDisplayDuration, func() {
		o.setStatus(func(s *Status) {
			if s.ErrorMessage == message {
				s.ErrorMessage = ""
			}
		})
	})
	o.mu.Unlock()
}

func (o *Orchestrator) startWait(label string, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	o.mu.Lock()
	o.waitGen++
	gen := o.waitGen
	if o.waitTimer != nil {
		o.waitTimer.Stop()
	}
	o.waitTimer = time.AfterFunc(timeout, func() {
		o.mu.Lock()
		expired := gen == o.waitGen
		o.mu.Unlock()
		if expired {
			o.shutdown(StateTimedOut, "Timed out waiting for "+label+".")
		}
	})
	o.mu.Unlock()
}

func (o *Orchestrator) stopWait() {
	o.mu.Lock()
	o.waitGen++
	if o.waitTimer != nil {
		o.waitTimer.Stop()
		o.waitTimer = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(mutate func(*Status)) {
	o.mu.Lock()
	mutate(&o.status)
	snapshot := o.status
	o.mu.Unlock()

	select {
	case o.updates <- snapshot:
	default:
	}
}

func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.done:
	}
}

func decodeSDP(data json.RawMessage) (webrtc.SessionDescription, error) {
	var p models.SDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}, nil
}

func decodeCandidate(data json.RawMessage) (webrtc.ICECandidateInit, error) {
	var p models.CandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}, nil
}
