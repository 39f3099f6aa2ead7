package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisSvc "fitchat/internal/service/redis"

	"github.com/google/uuid"
)

// ErrInvalidSession is returned for unknown or expired tokens.
var ErrInvalidSession = errors.New("invalid or expired session")

// Store resolves opaque session tokens to authenticated user ids.
// Tokens live in redis with a sliding TTL.
type Store struct {
	redis *redisSvc.RedisService
	ttl   time.Duration
}

func NewStore(redis *redisSvc.RedisService, ttl time.Duration) *Store {
	return &Store{
		redis: redis,
		ttl:   ttl,
	}
}

// Create mints a fresh token for userID.
func (s *Store) Create(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := s.redis.Set(ctx, sessionKey(token), userID, s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve maps a token back to its user id and refreshes the TTL.
func (s *Store) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidSession
	}

	v, err := s.redis.Get(ctx, sessionKey(token))
	if err == redisSvc.Nil {
		return 0, ErrInvalidSession
	}
	if err != nil {
		return 0, err
	}

	userID, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session value: %w", err)
	}

	// Sliding expiry; a failed refresh is not fatal for this request.
	_ = s.redis.Expire(ctx, sessionKey(token), s.ttl)
	return userID, nil
}

// Destroy invalidates the token.
func (s *Store) Destroy(ctx context.Context, token string) error {
	return s.redis.Del(ctx, sessionKey(token))
}

func sessionKey(token string) string {
	return fmt.Sprintf("session: %s", token)
}
