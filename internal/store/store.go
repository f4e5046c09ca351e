// Package store persists session metadata and live room membership. The redis
// implementation is the production backend; the memory implementation backs
// tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

// ErrSessionNotFound indicates that the requested session was not found.
var ErrSessionNotFound = errors.New("session not found")

// SessionTTL bounds how long an unconsumed session record is kept around.
const SessionTTL = 24 * time.Hour

// Store is the persistence surface consumed by the HTTP and websocket handlers.
type Store interface {
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	AddParticipant(ctx context.Context, sessionID, userID string) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
	CountParticipants(ctx context.Context, sessionID string) (int, error)
}
