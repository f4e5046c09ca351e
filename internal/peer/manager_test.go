package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentDescription struct {
	sessionID    string
	description  webrtc.SessionDescription
	targetUserID string
}

type sentCandidate struct {
	sessionID    string
	candidate    webrtc.ICECandidateInit
	targetUserID string
}

// fakeSignaler records outgoing signaling calls. Must be race-safe: candidate
// callbacks fire from the ICE gathering goroutines.
type fakeSignaler struct {
	mu         sync.Mutex
	offers     []sentDescription
	answers    []sentDescription
	candidates []sentCandidate
}

func (f *fakeSignaler) SendOffer(sessionID string, offer webrtc.SessionDescription, targetUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, sentDescription{sessionID, offer, targetUserID})
}

func (f *fakeSignaler) SendAnswer(sessionID string, answer webrtc.SessionDescription, targetUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, sentDescription{sessionID, answer, targetUserID})
}

func (f *fakeSignaler) SendIceCandidate(sessionID string, candidate webrtc.ICECandidateInit, targetUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, sentCandidate{sessionID, candidate, targetUserID})
}

func (f *fakeSignaler) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func (f *fakeSignaler) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func videoTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, "manager-test",
	)
	require.NoError(t, err)
	return track
}

func TestCallerSendsExactlyOneOffer(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)
	defer m.EndCall()

	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.offers, 1)
	assert.Equal(t, "session-1", f.offers[0].sessionID)
	assert.Equal(t, "user-1", f.offers[0].targetUserID)
	assert.Equal(t, webrtc.SDPTypeOffer, f.offers[0].description.Type)
	assert.NotEmpty(t, f.offers[0].description.SDP)
}

func TestConnectionFactoryBuildsTheConnection(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)
	defer m.EndCall()

	var calls int
	m.SetConnectionFactory(func(config webrtc.Configuration) (*webrtc.PeerConnection, error) {
		calls++
		return webrtc.NewPeerConnection(config)
	})

	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))
	assert.Equal(t, 1, calls)

	// Nil leaves the installed factory in place.
	m.SetConnectionFactory(nil)
	require.NoError(t, m.RetryConnection())
	assert.Equal(t, 2, calls)
}

func TestCalleeAnswersOffer(t *testing.T) {
	callerSig := &fakeSignaler{}
	caller := NewManager(callerSig, nil)
	defer caller.EndCall()
	require.NoError(t, caller.InitializeAsCaller("session-1", "user-1"))

	callerSig.mu.Lock()
	offer := callerSig.offers[0].description
	callerSig.mu.Unlock()

	calleeSig := &fakeSignaler{}
	callee := NewManager(calleeSig, nil)
	defer callee.EndCall()
	require.NoError(t, callee.InitializeAsCallee(offer, "session-1", "trainer-1"))

	calleeSig.mu.Lock()
	defer calleeSig.mu.Unlock()
	require.Len(t, calleeSig.answers, 1)
	assert.Equal(t, "session-1", calleeSig.answers[0].sessionID)
	assert.Equal(t, "trainer-1", calleeSig.answers[0].targetUserID)
	assert.Equal(t, webrtc.SDPTypeAnswer, calleeSig.answers[0].description.Type)

	remote := callee.RemoteDescription()
	require.NotNil(t, remote)
	assert.Equal(t, offer.SDP, remote.SDP)
}

func TestEarlyCandidatesAreBuffered(t *testing.T) {
	callerSig := &fakeSignaler{}
	caller := NewManager(callerSig, nil)
	defer caller.EndCall()
	require.NoError(t, caller.InitializeAsCaller("session-1", "user-1"))

	// Host candidates gather without any network dependency.
	require.Eventually(t, func() bool { return callerSig.candidateCount() > 0 },
		5*time.Second, 20*time.Millisecond)

	callerSig.mu.Lock()
	offer := callerSig.offers[0].description
	early := make([]webrtc.ICECandidateInit, len(callerSig.candidates))
	for i, c := range callerSig.candidates {
		early[i] = c.candidate
	}
	callerSig.mu.Unlock()

	calleeSig := &fakeSignaler{}
	callee := NewManager(calleeSig, nil)
	defer callee.EndCall()

	// Candidates arriving before the connection exists must not be lost or
	// crash anything; they are applied once the remote description is set.
	for _, c := range early {
		callee.HandleIceCandidate(c)
	}
	require.NoError(t, callee.InitializeAsCallee(offer, "session-1", "trainer-1"))

	calleeSig.mu.Lock()
	defer calleeSig.mu.Unlock()
	require.Len(t, calleeSig.answers, 1)
}

func TestHandleAnswerWithoutConnection(t *testing.T) {
	m := NewManager(&fakeSignaler{}, nil)
	m.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
}

func TestReplaceTrackNoSender(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)

	cam := videoTrack(t, "camera")
	screen := videoTrack(t, "screen")

	_, err := m.ReplaceTrack(cam, screen)
	assert.ErrorIs(t, err, ErrNoSender)

	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))
	defer m.EndCall()

	// Connection exists but no sender carries cam.
	_, err = m.ReplaceTrack(cam, screen)
	assert.ErrorIs(t, err, ErrNoSender)
}

func TestReplaceTrackSwapsSender(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)
	defer m.EndCall()

	cam := videoTrack(t, "camera")
	m.SetLocalTracks(cam)
	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))

	screen := videoTrack(t, "screen")
	sender, err := m.ReplaceTrack(cam, screen)
	require.NoError(t, err)
	assert.Equal(t, webrtc.TrackLocal(screen), sender.Track())
}

func TestEndCallIsIdempotent(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)
	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))

	m.EndCall()
	m.EndCall()

	// Teardown publishes the closed state and clears the remote media.
	require.Eventually(t, func() bool {
		select {
		case state := <-m.States():
			return state == webrtc.PeerConnectionStateClosed
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	select {
	case rt := <-m.RemoteTracks():
		assert.Nil(t, rt)
	case <-time.After(time.Second):
		t.Fatal("no remote teardown signal")
	}

	assert.Nil(t, m.RemoteDescription())

	// The remembered attempt is gone, so a retry has nothing to work with.
	assert.Error(t, m.RetryConnection())
}

func TestRetryWithoutPreviousAttempt(t *testing.T) {
	m := NewManager(&fakeSignaler{}, nil)
	assert.Error(t, m.RetryConnection())
}

func TestRetryRerunsCallerInitialization(t *testing.T) {
	f := &fakeSignaler{}
	m := NewManager(f, nil)
	defer m.EndCall()

	require.NoError(t, m.InitializeAsCaller("session-1", "user-1"))
	require.NoError(t, m.RetryConnection())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.offers, 2)
	assert.Equal(t, "session-1", f.offers[1].sessionID)
	assert.Equal(t, "user-1", f.offers[1].targetUserID)
}
