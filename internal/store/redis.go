package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vighneshvikky/vortexfit-rtc/config"
	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

// Redis is the production Store backed by a single redis instance. Session
// records live under session:<id> as JSON blobs, room membership under
// session:<id>:participants as a set. Both carry SessionTTL so abandoned
// sessions expire on their own.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection with a ping.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Close closes the underlying redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func sessionKey(id string) string      { return "session:" + id }
func participantsKey(id string) string { return "session:" + id + ":participants" }

func (r *Redis) CreateSession(ctx context.Context, s models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, sessionKey(s.ID), data, SessionTTL).Err()
}

func (r *Redis) GetSession(ctx context.Context, id string) (models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, err
	}

	var s models.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return models.Session{}, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return s, nil
}

func (r *Redis) DeleteSession(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id), participantsKey(id)).Err()
}

func (r *Redis) AddParticipant(ctx context.Context, sessionID, userID string) error {
	if err := r.client.SAdd(ctx, participantsKey(sessionID), userID).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, participantsKey(sessionID), SessionTTL).Err()
}

func (r *Redis) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	return r.client.SRem(ctx, participantsKey(sessionID), userID).Err()
}

func (r *Redis) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	n, err := r.client.SCard(ctx, participantsKey(sessionID)).Result()
	return int(n), err
}
