package call

import "time"

// Role of the local participant in the approval handshake. The trainer
// approves join requests and creates the offer; the user requests to join and
// answers.
type Role string

const (
	RoleTrainer Role = "trainer"
	RoleUser    Role = "user"
)

// State of the per-call state machine.
type State string

const (
	StateIdle                State = "idle"
	StateAcquiringMedia      State = "acquiring-media"
	StateSignalingConnected  State = "signaling-connected"
	StateAwaitingApproval    State = "awaiting-approval"
	StateAwaitingJoinRequest State = "awaiting-join-request"
	StateNegotiating         State = "negotiating"
	StateConnected           State = "connected"
	StateReconnecting        State = "reconnecting"
	StateTimedOut            State = "timed-out"
	StateEnded               State = "ended"
	StateError               State = "error"
)

// terminal reports whether no further transitions can happen from s.
func (s State) terminal() bool {
	switch s {
	case StateEnded, StateTimedOut, StateError:
		return true
	}
	return false
}

// Status is the snapshot the embedding UI binds to. Always eventually
// consistent with the state machine.
type Status struct {
	State           State
	Role            Role
	HasLocalStream  bool
	HasRemoteStream bool
	IsConnecting    bool
	MicrophoneOn    bool
	CameraOn        bool
	ScreenSharing   bool
	ErrorMessage    string
	CallDuration    time.Duration

	// PendingUserID is the head of the approval queue (trainer role only);
	// empty when no join request awaits a decision.
	PendingUserID string
	PendingCount  int
}

// Config holds the per-wait timeouts. A zero timeout disables the
// corresponding timer.
type Config struct {
	// ApprovalTimeout bounds how long the user waits for the trainer's
	// approval after sending a join request.
	ApprovalTimeout time.Duration
	// AnswerTimeout bounds the wait for the remote offer (user role) and for
	// the remote answer (trainer role) once negotiation has started.
	AnswerTimeout time.Duration
}

// errorDisplayDuration is how long a non-terminal error message stays visible
// before clearing on its own.
const errorDisplayDuration = 5 * time.Second

// rejectionReason is the fixed decline message sent by RejectUser.
const rejectionReason = "The trainer declined your request to join this session."
