// Package signaling translates call-lifecycle intents into events on the video
// namespace and demultiplexes the inbound traffic into one typed message
// stream. The authenticated user id is threaded explicitly into every outgoing
// message; the transport's socket id is never used as identity.
package signaling

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/socket"
)

// Client is the per-call signaling surface over the video namespace.
type Client struct {
	mux       *socket.Multiplexer
	serverURL string
	token     string

	mu        sync.Mutex
	userID    string
	sessionID string
	connected bool

	messages   chan models.SignalingMessage
	roomEvents chan models.RoomEvent
	done       chan struct{}
	closeOnce  sync.Once
}

// NewClient builds a signaling client. token is the bearer token issued by the
// auth endpoint; the server derives the participant identity from it on the
// websocket upgrade.
func NewClient(mux *socket.Multiplexer, serverURL, token string) *Client {
	return &Client{
		mux:        mux,
		serverURL:  serverURL,
		token:      token,
		messages:   make(chan models.SignalingMessage, 64),
		roomEvents: make(chan models.RoomEvent, 16),
		done:       make(chan struct{}),
	}
}

// Connect opens the video namespace with the client's token, subscribes to the
// inbound events and then joins the session room. userID must match the token's
// identity; the server stamps outbound messages with the claims, not with this
// value. Subscriptions are registered before the join is emitted so no message
// can slip past them. Must be called exactly once per call attempt, before any
// Send method.
func (c *Client) Connect(userID, sessionID string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("signaling already connected for session %s", c.sessionID)
	}
	c.userID = userID
	c.sessionID = sessionID
	c.connected = true
	c.mu.Unlock()

	if err := c.mux.Connect(models.NamespaceVideo, c.token, c.serverURL); err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return err
	}

	signals := c.mux.On(models.NamespaceVideo, models.EventSignal)
	joined := c.mux.On(models.NamespaceVideo, models.EventUserJoined)
	left := c.mux.On(models.NamespaceVideo, models.EventUserLeft)

	go c.demux(signals, joined, left)

	c.mux.Emit(models.NamespaceVideo, models.EventJoinVideoRoom, models.RoomEvent{
		SessionID: sessionID,
		UserID:    userID,
	})
	return nil
}

// SendOffer sends an SDP offer to the target participant.
func (c *Client) SendOffer(sessionID string, offer webrtc.SessionDescription, targetUserID string) {
	c.sendSDP(models.SignalTypeOffer, sessionID, offer, targetUserID)
}

// SendAnswer sends an SDP answer to the target participant.
func (c *Client) SendAnswer(sessionID string, answer webrtc.SessionDescription, targetUserID string) {
	c.sendSDP(models.SignalTypeAnswer, sessionID, answer, targetUserID)
}

func (c *Client) sendSDP(t models.SignalType, sessionID string, desc webrtc.SessionDescription, targetUserID string) {
	data, err := json.Marshal(models.SDPPayload{Type: desc.Type.String(), SDP: desc.SDP})
	if err != nil {
		log.Printf("SIGNALING: marshal %s failed: %v", t, err)
		return
	}
	c.Send(models.SignalingMessage{
		Type:      t,
		SessionID: sessionID,
		To:        targetUserID,
		Data:      data,
	})
}

// SendIceCandidate sends one ICE candidate to the target participant.
func (c *Client) SendIceCandidate(sessionID string, candidate webrtc.ICECandidateInit, targetUserID string) {
	data, err := json.Marshal(models.CandidatePayload{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
	if err != nil {
		log.Printf("SIGNALING: marshal candidate failed: %v", err)
		return
	}
	c.Send(models.SignalingMessage{
		Type:      models.SignalTypeCandidate,
		SessionID: sessionID,
		To:        targetUserID,
		Data:      data,
	})
}

// Send emits an arbitrary signaling message; used for the join-request,
// approval and rejection parts of the protocol. From is always stamped with
// the connected user id.
func (c *Client) Send(msg models.SignalingMessage) {
	c.mu.Lock()
	msg.From = c.userID
	c.mu.Unlock()
	c.mux.Emit(models.NamespaceVideo, models.EventSignal, msg)
}

// Messages returns the demultiplexed stream of inbound signaling messages.
// The consumer dispatches by message type.
func (c *Client) Messages() <-chan models.SignalingMessage {
	return c.messages
}

// RoomEvents returns the stream of user-joined and user-left notifications.
// A UserID equal to the local user never appears here; the server only
// broadcasts to the other room members.
func (c *Client) RoomEvents() <-chan models.RoomEvent {
	return c.roomEvents
}

// LeaveRoom removes this session's room membership. The namespace connection
// stays open for other consumers; Close releases this client's reference.
func (c *Client) LeaveRoom(sessionID, userID string) {
	c.mux.Emit(models.NamespaceVideo, models.EventLeaveVideoRoom, models.RoomEvent{
		SessionID: sessionID,
		UserID:    userID,
	})
}

// Close stops the demultiplexer and drops this client's reference on the video
// namespace. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mux.Release(models.NamespaceVideo)
	})
}

func (c *Client) demux(signals, joined, left <-chan json.RawMessage) {
	for {
		select {
		case <-c.done:
			return

		case raw, ok := <-signals:
			if !ok {
				return
			}
			var msg models.SignalingMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("SIGNALING: invalid signal payload: %v", err)
				continue
			}
			select {
			case c.messages <- msg:
			default:
				log.Printf("SIGNALING: message stream full, dropped %s", msg.Type)
			}

		case raw, ok := <-joined:
			if !ok {
				return
			}
			c.forwardRoomEvent(raw)

		case raw, ok := <-left:
			if !ok {
				return
			}
			c.forwardRoomEvent(raw)
		}
	}
}

func (c *Client) forwardRoomEvent(raw json.RawMessage) {
	var ev models.RoomEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("SIGNALING: invalid room event: %v", err)
		return
	}
	select {
	case c.roomEvents <- ev:
	default:
	}
}
