package models

import "time"

// Session statuses as assigned by the booking subsystem.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusActive    = "active"
	SessionStatusEnded     = "ended"
)

// Session is a booked one-to-one training session. It is created by the booking
// subsystem before the call starts and is read-only to the signaling layer.
type Session struct {
	ID               string    `json:"id"`
	TrainerID        string    `json:"trainerId"`
	UserID           string    `json:"userId"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateSessionRequest is the request body for seeding a session. The trainer
// id comes from the JWT of the caller.
type CreateSessionRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// CreateSessionResponse is the response for creating a session.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}
