package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager reads cookie based sessions backed by Redis. Sessions are
// written by the identity provider at login; this service only consumes them.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
}

// Session holds per-request session data.
type Session struct {
	ID     string
	userID string
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// NewSessionManager constructs a SessionManager. Cookie values are signed
// with secret.
func NewSessionManager(client *redis.Client, cookieName, secret string, ttl time.Duration) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
	}
}

// Load returns the session referenced by the request cookie. Requests without
// a cookie, with a tampered cookie, or with a cookie that no longer maps to a
// stored session yield an anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return &Session{}, nil
		}
		return nil, err
	}

	id, ok := sm.verify(cookie.Value)
	if !ok {
		return &Session{}, nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Session{ID: id}, nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	return &Session{ID: id, userID: stored.UserID}, nil
}

// Save persists a session for the given user and returns the signed cookie
// value. The identity provider and tests use it to mint sessions.
func (sm *SessionManager) Save(ctx context.Context, userID string, values map[string]string) (string, error) {
	id := uuid.NewString()
	data, err := json.Marshal(sessionPayload{Values: values, UserID: userID})
	if err != nil {
		return "", err
	}
	if err := sm.client.Set(ctx, sm.redisKey(id), data, sm.ttl).Err(); err != nil {
		return "", err
	}
	return id + "." + sm.sign(id), nil
}

// User returns the current user ID.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.userID
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, sig, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	return id, hmac.Equal([]byte(sig), []byte(sm.sign(id)))
}
