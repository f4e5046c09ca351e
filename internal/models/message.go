package models

import "encoding/json"

// Namespace names for the logical channels multiplexed over the websocket layer.
const (
	NamespaceVideo         = "video"
	NamespaceChat          = "chat"
	NamespaceNotifications = "notifications"
)

// Event names exchanged over a namespace connection.
const (
	EventRegistered     = "registered"
	EventJoinVideoRoom  = "join-video-room"
	EventLeaveVideoRoom = "leave-video-room"
	EventSignal         = "signal"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventError          = "error"
)

// Envelope is the frame format on the wire: an event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope for the given event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// SignalType identifies the kind of call-lifecycle message carried by a signal event.
type SignalType string

const (
	SignalTypeOffer       SignalType = "offer"
	SignalTypeAnswer      SignalType = "answer"
	SignalTypeCandidate   SignalType = "ice-candidate"
	SignalTypeJoinRequest SignalType = "user-join-request"
	SignalTypeApproval    SignalType = "approval"
	SignalTypeRejection   SignalType = "rejection"
)

// SignalingMessage is the unit of the call negotiation protocol. From is always
// the authenticated user id of the sender; the server overwrites it on receipt
// so a client cannot impersonate another participant. To is empty for
// broadcast-style messages (a user-join-request sent before the trainer is known).
type SignalingMessage struct {
	Type      SignalType      `json:"type"`
	SessionID string          `json:"sessionId"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SDPPayload carries an offer or answer session description.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload carries one ICE candidate.
type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// RejectionPayload carries the human-readable decline reason.
type RejectionPayload struct {
	Reason string `json:"reason"`
}

// RoomEvent is the payload of join-video-room, leave-video-room, user-joined
// and user-left events.
type RoomEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// RegisteredEvent is sent by the server right after the upgrade and carries the
// transport-assigned socket id. Diagnostics only: participant identity is always
// the authenticated user id, never this value.
type RegisteredEvent struct {
	SocketID string `json:"socketId"`
}

// ErrorEvent is the payload of server-side error events.
type ErrorEvent struct {
	Message string `json:"message"`
}
