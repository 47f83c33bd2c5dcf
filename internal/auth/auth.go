// Package auth resolves organization API keys for the HTTP surface.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/modelgate/pkg/logger"
)

var (
	ErrKeyNotFound = errors.New("api key not found")
	ErrKeyRevoked  = errors.New("api key revoked")
)

// DefaultCacheTTL bounds how long a revoked key may keep working through the
// cache.
const DefaultCacheTTL = 5 * time.Minute

// APIKey is an organization credential. Only the hash of the secret is kept.
type APIKey struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	KeyHash        string    `json:"key_hash"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a *APIKey) MarshalBinary() ([]byte, error) { return json.Marshal(a) }

func (a *APIKey) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, a) }

type Store interface {
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

// Cache is the subset of *redis.Client used to memoize key lookups.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// HashKey is the stored form of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func cacheKey(keyHash string) string { return "auth:key:" + keyHash }

// Authenticator looks keys up in the cache first and falls back to the store.
type Authenticator struct {
	store Store
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewAuthenticator builds an Authenticator. cache may be nil.
func NewAuthenticator(store Store, cache Cache) *Authenticator {
	return &Authenticator{store: store, cache: cache, ttl: DefaultCacheTTL, log: logger.NewComponentLogger("auth")}
}

// Resolve returns the active key matching the raw secret.
func (a *Authenticator) Resolve(ctx context.Context, secret string) (*APIKey, error) {
	hash := HashKey(secret)
	if a.cache != nil {
		var k APIKey
		err := a.cache.Get(ctx, cacheKey(hash)).Scan(&k)
		switch {
		case err == nil:
			return &k, nil
		case !errors.Is(err, redis.Nil):
			a.log.Warn("auth cache lookup failed", "error", err)
		}
	}

	k, err := a.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !k.Active {
		return nil, ErrKeyRevoked
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, cacheKey(hash), k, a.ttl).Err(); err != nil {
			a.log.Warn("auth cache write failed", "error", err)
		}
	}
	return k, nil
}

type Middleware func(next http.Handler) http.Handler

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	secret, ok := strings.CutPrefix(header, "Bearer ")
	secret = strings.TrimSpace(secret)
	return secret, ok && secret != ""
}

// NewMiddleware attaches the organization, key id and request id of an
// authenticated request to its context.
func NewMiddleware(store Store, cache Cache) Middleware {
	a := NewAuthenticator(store, cache)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := WithRequestID(r.Context(), requestID)

			secret, ok := bearer(r)
			if !ok {
				deny(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			k, err := a.Resolve(ctx, secret)
			switch {
			case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyRevoked):
				deny(w, http.StatusUnauthorized, "invalid api key")
				return
			case err != nil:
				a.log.Error("api key lookup failed", "request_id", requestID, "error", err)
				deny(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx = WithOrganizationID(ctx, k.OrganizationID)
			ctx = context.WithValue(ctx, apiKeyIDKey, k.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey int

const (
	organizationIDKey contextKey = iota
	apiKeyIDKey
	requestIDKey
)

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func GetOrganizationID(ctx context.Context) string { return stringValue(ctx, organizationIDKey) }

func GetAPIKeyID(ctx context.Context) string { return stringValue(ctx, apiKeyIDKey) }

func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, organizationIDKey, organizationID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
