// Package redis stores shopper sessions in Redis as JSON with a sliding TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"jilt-connector/internal/platform"
)

// DefaultTTL matches the storefront's session lifetime.
const DefaultTTL = 48 * time.Hour

const keyPrefix = "jilt:session:"

// SessionStore implements platform.SessionStore over Redis.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ platform.SessionStore = (*SessionStore)(nil)

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewSessionStore returns a store using rdb. A non-positive ttl uses DefaultTTL.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Load returns the session, or (nil, nil) when it does not exist or expired.
func (s *SessionStore) Load(ctx context.Context, id string) (*platform.Session, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var sess platform.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if sess.Values == nil {
		sess.Values = map[string]string{}
	}
	return &sess, nil
}

// Save writes the session and restarts its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *platform.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// New returns an unsaved session with a random id.
func (s *SessionStore) New() *platform.Session {
	return platform.NewSession(uuid.NewString())
}
