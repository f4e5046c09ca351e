package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vighneshvikky/vortexfit-rtc/internal/middleware"
	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents one websocket connection scoped to a namespace.
type Client struct {
	SocketID  string
	UserID    string
	Namespace string
	Conn      *websocket.Conn
	Send      chan []byte

	// sessionID of the joined video room, "" when not in a room.
	// Touched only from the read pump goroutine.
	sessionID string
}

// Signaling handles websocket connections for the namespaced event channels.
type Signaling struct {
	hub       *Hub
	store     store.Store
	jwtSecret string
}

func NewSignaling(hub *Hub, s store.Store, jwtSecret string) *Signaling {
	return &Signaling{hub: hub, store: s, jwtSecret: jwtSecret}
}

// HandleNamespace upgrades /ws/:namespace?token=... to a websocket connection.
// Browsers cannot set headers on websocket dials, so the credential arrives as
// a query parameter; identity is always the user id from the validated claims.
// The generated socket id is returned to the client for diagnostics only.
func (s *Signaling) HandleNamespace(c *gin.Context) {
	namespace := c.Param("namespace")
	token := c.Query("token")
	if namespace == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "namespace and token are required"})
		return
	}

	claims, err := middleware.ParseToken(token, s.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		SocketID:  uuid.New().String(),
		UserID:    claims.UserID,
		Namespace: namespace,
		Conn:      conn,
		Send:      make(chan []byte, 256),
	}
	s.hub.addClient(client)

	log.Printf("User %s connected to namespace %s (socket %s)", claims.UserID, namespace, client.SocketID)

	if env, err := models.NewEnvelope(models.EventRegistered, models.RegisteredEvent{SocketID: client.SocketID}); err == nil {
		client.send(env)
	}

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Signaling) readPump(client *Client) {
	defer func() {
		s.disconnect(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.sendError(client, "invalid frame: "+err.Error())
			continue
		}

		switch env.Event {
		case models.EventJoinVideoRoom:
			s.handleJoin(client, env.Data)
		case models.EventLeaveVideoRoom:
			s.handleLeave(client, env.Data)
		case models.EventSignal:
			s.handleSignal(client, env.Data)
		default:
			s.sendError(client, "unsupported event: "+env.Event)
		}
	}
}

func (s *Signaling) handleJoin(client *Client, data json.RawMessage) {
	var ev models.RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.sendError(client, "invalid join payload")
		return
	}

	ctx := context.Background()
	session, err := s.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		s.sendError(client, "session "+ev.SessionID+" not found")
		return
	}
	if client.UserID != session.TrainerID && client.UserID != session.UserID {
		s.sendError(client, "user "+client.UserID+" is not a participant of session "+ev.SessionID)
		return
	}

	s.hub.joinRoom(client, ev.SessionID)
	client.sessionID = ev.SessionID
	if err := s.store.AddParticipant(ctx, ev.SessionID, client.UserID); err != nil {
		log.Printf("Failed to record participant: %v", err)
	}

	log.Printf("User %s joined session %s", client.UserID, ev.SessionID)

	if env, err := models.NewEnvelope(models.EventUserJoined, models.RoomEvent{
		SessionID: ev.SessionID,
		UserID:    client.UserID,
	}); err == nil {
		s.hub.broadcastRoom(client.Namespace, ev.SessionID, client.UserID, env)
	}
}

func (s *Signaling) handleLeave(client *Client, data json.RawMessage) {
	var ev models.RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.sendError(client, "invalid leave payload")
		return
	}
	s.leaveSession(client, ev.SessionID)
}

func (s *Signaling) handleSignal(client *Client, data json.RawMessage) {
	var msg models.SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(client, "invalid signal payload")
		return
	}
	if msg.SessionID == "" {
		s.sendError(client, "signal sessionId cannot be empty")
		return
	}
	if !s.hub.inRoom(client, msg.SessionID) {
		s.sendError(client, "not joined to session "+msg.SessionID)
		return
	}

	// Stamp the authoritative sender identity.
	msg.From = client.UserID

	env, err := models.NewEnvelope(models.EventSignal, msg)
	if err != nil {
		return
	}

	if msg.To == "" {
		s.hub.broadcastRoom(client.Namespace, msg.SessionID, client.UserID, env)
		return
	}
	if !s.hub.sendToUser(client.Namespace, msg.SessionID, msg.To, env) {
		s.sendError(client, "client "+msg.To+" not found in session "+msg.SessionID)
	}
}

// leaveSession removes room membership without closing the namespace
// connection; other consumers of the namespace may still need it.
func (s *Signaling) leaveSession(client *Client, sessionID string) {
	if sessionID == "" {
		return
	}
	s.hub.leaveRoom(client, sessionID)
	if client.sessionID == sessionID {
		client.sessionID = ""
	}
	if err := s.store.RemoveParticipant(context.Background(), sessionID, client.UserID); err != nil {
		log.Printf("Failed to remove participant: %v", err)
	}

	if env, err := models.NewEnvelope(models.EventUserLeft, models.RoomEvent{
		SessionID: sessionID,
		UserID:    client.UserID,
	}); err == nil {
		s.hub.broadcastRoom(client.Namespace, sessionID, client.UserID, env)
	}

	log.Printf("User %s left session %s", client.UserID, sessionID)
}

func (s *Signaling) disconnect(client *Client) {
	if client.sessionID != "" {
		s.leaveSession(client, client.sessionID)
	}
	s.hub.removeClient(client)
	log.Printf("User %s disconnected from namespace %s", client.UserID, client.Namespace)
}

func (s *Signaling) sendError(client *Client, message string) {
	if env, err := models.NewEnvelope(models.EventError, models.ErrorEvent{Message: message}); err == nil {
		client.send(env)
	}
}

func (s *Signaling) writePump(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
