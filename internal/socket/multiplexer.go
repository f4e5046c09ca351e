// Package socket provides the client side of the namespaced event channels: one
// websocket connection per logical namespace (video, chat, notifications), with
// typed subscribe/emit, per-namespace connection status and a shared error
// stream. Reconnect policy deliberately lives with the caller; recovering a
// socket and recovering a media session must be coordinated, not independent.
package socket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

// Error is the shared error-stream unit; one stream covers all namespaces.
type Error struct {
	Namespace string
	Message   string
}

// Multiplexer owns the per-namespace connections. Connections are reference
// counted: every Connect for an already-open namespace adds a reference, and
// the transport is only torn down when Release brings the count to zero or
// Disconnect forces it.
type Multiplexer struct {
	mu         sync.Mutex
	conns      map[string]*conn
	statusSubs map[string][]chan bool
	errs       chan Error
}

type conn struct {
	namespace string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once

	mu       sync.Mutex
	socketID string
	refs     int
	subs     map[string][]chan json.RawMessage
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		conns:      make(map[string]*conn),
		statusSubs: make(map[string][]chan bool),
		errs:       make(chan Error, 16),
	}
}

// Connect opens the websocket connection for a namespace, authenticating with
// the given bearer token. The server derives the participant identity from the
// token's claims, never from anything the client asserts. Idempotent: if the
// namespace is already connected it only adds a reference and returns nil.
func (m *Multiplexer) Connect(namespace, token, serverURL string) error {
	m.mu.Lock()
	if c, ok := m.conns[namespace]; ok {
		c.mu.Lock()
		c.refs++
		c.mu.Unlock()
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	u.Path = "/ws/" + namespace
	u.RawQuery = url.Values{"token": {token}}.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect namespace %s: %w", namespace, err)
	}

	c := &conn{
		namespace: namespace,
		ws:        ws,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		refs:      1,
		subs:      make(map[string][]chan json.RawMessage),
	}

	m.mu.Lock()
	// A concurrent Connect may have won the race; keep the first connection.
	if existing, ok := m.conns[namespace]; ok {
		existing.mu.Lock()
		existing.refs++
		existing.mu.Unlock()
		m.mu.Unlock()
		ws.Close()
		return nil
	}
	m.conns[namespace] = c
	m.mu.Unlock()

	go m.readPump(c)
	go m.writePump(c)

	m.broadcastStatus(namespace, true)
	log.Printf("SOCKET [%s]: connected", namespace)
	return nil
}

// Emit sends an event on a namespace, fire-and-forget. It never returns an
// error to the caller: a missing connection is a silent no-op and transport
// failures surface only on the shared error stream.
func (m *Multiplexer) Emit(namespace, event string, data any) {
	m.mu.Lock()
	c, ok := m.conns[namespace]
	m.mu.Unlock()
	if !ok {
		log.Printf("SOCKET [%s]: emit %q dropped, no connection", namespace, event)
		return
	}

	env, err := models.NewEnvelope(event, data)
	if err != nil {
		m.pushError(namespace, "marshal "+event+": "+err.Error())
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		m.pushError(namespace, "marshal envelope: "+err.Error())
		return
	}

	select {
	case c.send <- raw:
	default:
		log.Printf("SOCKET [%s]: emit %q dropped, buffer full", namespace, event)
	}
}

// On returns a stream of payloads for the given event, delivering from the
// moment of subscription onward. There is no replay for late subscribers, so
// callers must subscribe before any expected message can arrive. Returns nil
// when the namespace is not connected.
func (m *Multiplexer) On(namespace, event string) <-chan json.RawMessage {
	m.mu.Lock()
	c, ok := m.conns[namespace]
	m.mu.Unlock()
	if !ok {
		log.Printf("SOCKET [%s]: subscription to %q before connect", namespace, event)
		return nil
	}

	ch := make(chan json.RawMessage, 32)
	c.mu.Lock()
	c.subs[event] = append(c.subs[event], ch)
	c.mu.Unlock()
	return ch
}

// ConnectionStatus returns a stream of connectivity transitions for the
// namespace, seeded with the current state, plus a cancel func that removes
// the subscription and closes the stream. Status subscriptions outlive any
// single connection, so they are not cleaned up by teardown; the consumer
// must cancel when it stops watching.
func (m *Multiplexer) ConnectionStatus(namespace string) (<-chan bool, func()) {
	ch := make(chan bool, 4)
	m.mu.Lock()
	_, connected := m.conns[namespace]
	m.statusSubs[namespace] = append(m.statusSubs[namespace], ch)
	m.mu.Unlock()
	ch <- connected

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			subs := m.statusSubs[namespace]
			for i := range subs {
				if subs[i] == ch {
					m.statusSubs[namespace] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(m.statusSubs[namespace]) == 0 {
				delete(m.statusSubs, namespace)
			}
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// IsConnected reports whether a connection exists for the namespace.
func (m *Multiplexer) IsConnected(namespace string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[namespace]
	return ok
}

// SocketID returns the transport-assigned id for the namespace connection.
// Diagnostics only; it is not stable across reconnects and must never be used
// as a participant identity.
func (m *Multiplexer) SocketID(namespace string) string {
	m.mu.Lock()
	c, ok := m.conns[namespace]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Errors returns the shared error stream for all namespaces.
func (m *Multiplexer) Errors() <-chan Error {
	return m.errs
}

// Release drops one reference to the namespace connection and tears down the
// transport when no references remain. Safe to call when no connection exists.
func (m *Multiplexer) Release(namespace string) {
	m.mu.Lock()
	c, ok := m.conns[namespace]
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.refs--
	last := c.refs <= 0
	c.mu.Unlock()

	if last {
		m.teardown(c)
	}
}

// Disconnect force-closes the namespace connection regardless of references.
// Safe to call when no connection exists.
func (m *Multiplexer) Disconnect(namespace string) {
	m.mu.Lock()
	c, ok := m.conns[namespace]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.teardown(c)
}

func (m *Multiplexer) teardown(c *conn) {
	c.once.Do(func() {
		m.mu.Lock()
		if m.conns[c.namespace] == c {
			delete(m.conns, c.namespace)
		}
		m.mu.Unlock()

		close(c.done)
		c.ws.Close()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string][]chan json.RawMessage)
		c.mu.Unlock()
		for _, list := range subs {
			for _, ch := range list {
				close(ch)
			}
		}

		m.broadcastStatus(c.namespace, false)
		log.Printf("SOCKET [%s]: disconnected", c.namespace)
	})
}

// broadcastStatus sends under the lock so a concurrent cancel cannot close a
// channel mid-broadcast. Sends are nonblocking, so holding the lock is cheap.
func (m *Multiplexer) broadcastStatus(namespace string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.statusSubs[namespace] {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (m *Multiplexer) pushError(namespace, message string) {
	select {
	case m.errs <- Error{Namespace: namespace, Message: message}:
	default:
		log.Printf("SOCKET [%s]: error stream full, dropped: %s", namespace, message)
	}
}

func (m *Multiplexer) readPump(c *conn) {
	defer m.teardown(c)

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				m.pushError(c.namespace, err.Error())
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			m.pushError(c.namespace, "invalid frame: "+err.Error())
			continue
		}

		switch env.Event {
		case models.EventRegistered:
			var reg models.RegisteredEvent
			if err := json.Unmarshal(env.Data, &reg); err == nil {
				c.mu.Lock()
				c.socketID = reg.SocketID
				c.mu.Unlock()
			}
		case models.EventError:
			var ev models.ErrorEvent
			if err := json.Unmarshal(env.Data, &ev); err == nil {
				m.pushError(c.namespace, ev.Message)
			}
		}

		c.mu.Lock()
		subs := make([]chan json.RawMessage, len(c.subs[env.Event]))
		copy(subs, c.subs[env.Event])
		c.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- env.Data:
			default:
				log.Printf("SOCKET [%s]: subscriber for %q full, dropped event", c.namespace, env.Event)
			}
		}
	}
}

func (m *Multiplexer) writePump(c *conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				m.pushError(c.namespace, "write: "+err.Error())
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
