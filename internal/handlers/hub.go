package handlers

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

// Hub tracks connected clients per namespace and the video rooms they joined.
// Rooms are keyed by session id within a namespace; membership is mirrored into
// the store so the session API can report live participant counts.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[string]*Client // namespace -> userID -> client
	rooms   map[string]map[string]*Client // namespace+"/"+sessionID -> userID -> client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

func roomKey(namespace, sessionID string) string {
	return namespace + "/" + sessionID
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns, ok := h.clients[c.Namespace]
	if !ok {
		ns = make(map[string]*Client)
		h.clients[c.Namespace] = ns
	}
	ns[c.UserID] = c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ns, ok := h.clients[c.Namespace]; ok {
		if ns[c.UserID] == c {
			delete(ns, c.UserID)
		}
		if len(ns) == 0 {
			delete(h.clients, c.Namespace)
		}
	}
}

func (h *Hub) joinRoom(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(c.Namespace, sessionID)
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[key] = room
		log.Printf("Created room %s", key)
	}
	room[c.UserID] = c
}

func (h *Hub) leaveRoom(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := roomKey(c.Namespace, sessionID)
	if room, ok := h.rooms[key]; ok {
		if room[c.UserID] == c {
			delete(room, c.UserID)
		}
		if len(room) == 0 {
			delete(h.rooms, key)
			log.Printf("Removed empty room %s", key)
		}
	}
}

// inRoom reports whether the client is currently a member of the session's room.
func (h *Hub) inRoom(c *Client, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomKey(c.Namespace, sessionID)]
	return ok && room[c.UserID] == c
}

// sendToUser delivers an envelope to one room member. Returns false when the
// target is not in the room.
func (h *Hub) sendToUser(namespace, sessionID, userID string, env models.Envelope) bool {
	h.mu.RLock()
	room, ok := h.rooms[roomKey(namespace, sessionID)]
	var target *Client
	if ok {
		target = room[userID]
	}
	h.mu.RUnlock()

	if target == nil {
		return false
	}
	target.send(env)
	return true
}

// broadcastRoom delivers an envelope to every room member except excludeUserID.
func (h *Hub) broadcastRoom(namespace, sessionID, excludeUserID string, env models.Envelope) {
	h.mu.RLock()
	room := h.rooms[roomKey(namespace, sessionID)]
	targets := make([]*Client, 0, len(room))
	for userID, client := range room {
		if userID != excludeUserID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.send(env)
	}
}

func (c *Client) send(env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to marshal envelope: %v", err)
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send %s to user %s, buffer full", env.Event, c.UserID)
	}
}
