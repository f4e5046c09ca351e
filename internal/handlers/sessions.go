package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
	"github.com/vighneshvikky/vortexfit-rtc/internal/store"
)

// SessionAPI exposes the session endpoints the booking subsystem uses to seed
// call sessions. A session is the unit a video room is keyed by: one trainer,
// one user, capacity two.
type SessionAPI struct {
	store store.Store
}

func NewSessionAPI(s store.Store) *SessionAPI {
	return &SessionAPI{store: s}
}

// Create creates a new session (requires authentication). The creator is the
// trainer; the body names the booked user.
func (a *SessionAPI) Create(c *gin.Context) {
	trainerID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session := models.Session{
		ID:        uuid.New().String(),
		TrainerID: trainerID.(string),
		UserID:    req.UserID,
		Status:    models.SessionStatusScheduled,
		CreatedAt: time.Now(),
	}

	if err := a.store.CreateSession(c.Request.Context(), session); err != nil {
		log.Printf("Failed to store session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	log.Printf("Session created: %s (trainer %s, user %s)", session.ID, session.TrainerID, session.UserID)

	c.JSON(http.StatusCreated, models.CreateSessionResponse{SessionID: session.ID})
}

// Get returns session information including the live participant count (public).
func (a *SessionAPI) Get(c *gin.Context) {
	sessionID := c.Param("sessionId")

	session, err := a.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		}
		return
	}

	count, err := a.store.CountParticipants(c.Request.Context(), sessionID)
	if err == nil {
		session.ParticipantCount = count
	}

	c.JSON(http.StatusOK, session)
}

// Delete removes a session (requires authentication, trainer only).
func (a *SessionAPI) Delete(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	sessionID := c.Param("sessionId")

	session, err := a.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		}
		return
	}

	if session.TrainerID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the session trainer can delete the session"})
		return
	}

	if err := a.store.DeleteSession(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}

	log.Printf("Session deleted: %s by trainer %s", sessionID, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}
