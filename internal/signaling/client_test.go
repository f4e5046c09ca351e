package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vighneshvikky/vortexfit-rtc/internal/handlers"
	"github.com/vighneshvikky/vortexfit-rtc/internal/middleware"
	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/socket"
	"github.com/vighneshvikky/vortexfit-rtc/internal/store"
)

const relayJWTSecret = "relay-test-secret"

func newRelayServer(t *testing.T) (string, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemory()
	sig := handlers.NewSignaling(handlers.NewHub(), mem, relayJWTSecret)
	router := gin.New()
	router.GET("/ws/:namespace", sig.HandleNamespace)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), mem
}

func relayToken(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(relayJWTSecret))
	require.NoError(t, err)
	return signed
}

func seedRelaySession(t *testing.T, mem *store.Memory) models.Session {
	t.Helper()
	session := models.Session{
		ID:        "session-1",
		TrainerID: "trainer-1",
		UserID:    "user-1",
		Status:    models.SessionStatusScheduled,
		CreatedAt: time.Now(),
	}
	require.NoError(t, mem.CreateSession(context.Background(), session))
	return session
}

func waitMembers(t *testing.T, mem *store.Memory, sessionID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		count, err := mem.CountParticipants(context.Background(), sessionID)
		return err == nil && count == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConnectOnlyOnce(t *testing.T) {
	wsURL, mem := newRelayServer(t)
	session := seedRelaySession(t, mem)

	c := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "trainer-1"))
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect("trainer-1", session.ID))
	err := c.Connect("trainer-1", session.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
}

func TestConnectFailureLeavesClientReusable(t *testing.T) {
	c := NewClient(socket.NewMultiplexer(), "ws://127.0.0.1:1", relayToken(t, "trainer-1"))
	require.Error(t, c.Connect("trainer-1", "session-1"))

	// The failed attempt must not poison the connected flag.
	require.Error(t, c.Connect("trainer-1", "session-1"))
}

func TestOfferRelayStampsSenderIdentity(t *testing.T) {
	wsURL, mem := newRelayServer(t)
	session := seedRelaySession(t, mem)

	trainer := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "trainer-1"))
	t.Cleanup(trainer.Close)
	require.NoError(t, trainer.Connect("trainer-1", session.ID))
	waitMembers(t, mem, session.ID, 1)

	user := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "user-1"))
	t.Cleanup(user.Close)
	require.NoError(t, user.Connect("user-1", session.ID))
	waitMembers(t, mem, session.ID, 2)

	trainer.SendOffer(session.ID, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\n",
	}, "user-1")

	select {
	case msg := <-user.Messages():
		assert.Equal(t, models.SignalTypeOffer, msg.Type)
		assert.Equal(t, "trainer-1", msg.From)
		assert.Equal(t, session.ID, msg.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("offer never relayed")
	}
}

func TestRoomEventsSurfaceJoins(t *testing.T) {
	wsURL, mem := newRelayServer(t)
	session := seedRelaySession(t, mem)

	trainer := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "trainer-1"))
	t.Cleanup(trainer.Close)
	require.NoError(t, trainer.Connect("trainer-1", session.ID))
	waitMembers(t, mem, session.ID, 1)

	user := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "user-1"))
	t.Cleanup(user.Close)
	require.NoError(t, user.Connect("user-1", session.ID))

	select {
	case ev := <-trainer.RoomEvents():
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, session.ID, ev.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("user-joined never surfaced")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	wsURL, mem := newRelayServer(t)
	session := seedRelaySession(t, mem)

	c := NewClient(socket.NewMultiplexer(), wsURL, relayToken(t, "trainer-1"))
	require.NoError(t, c.Connect("trainer-1", session.ID))

	c.LeaveRoom(session.ID, "trainer-1")
	c.Close()
	c.Close()
}
