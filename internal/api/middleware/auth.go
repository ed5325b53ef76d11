package middleware

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/cloo-solutions/codelens/internal/api"
	"github.com/cloo-solutions/codelens/internal/domain"
)

type contextKey string

const KeyIDKey contextKey = "key_id"

// keyIDHeader carries the key id back to middleware that runs before auth
const keyIDHeader = "X-Key-ID"

// AuthValidator resolves a bearer token to a key id
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// StaticKeys validates tokens against a fixed list of configured keys.
type StaticKeys struct {
	keys [][]byte
}

// NewStaticKeys creates a StaticKeys validator. Blank keys are ignored.
func NewStaticKeys(keys []string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Len returns the number of configured keys
func (s *StaticKeys) Len() int {
	return len(s.keys)
}

// ValidateAPIKey returns a short fingerprint of the matching key.
func (s *StaticKeys) ValidateAPIKey(_ context.Context, token string) (string, error) {
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(k, []byte(token)) == 1 {
			return KeyFingerprint(token), nil
		}
	}
	return "", domain.ErrInvalidAPIKey
}

// APIKeyPrefix marks keys minted by GenerateAPIKey
const APIKeyPrefix = "cl_"

// GenerateAPIKey returns a new random key of the form cl_<64 hex chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// IsValidAPIKey reports whether token has the GenerateAPIKey format.
func IsValidAPIKey(token string) bool {
	hexPart, ok := strings.CutPrefix(token, APIKeyPrefix)
	if !ok || len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// KeyFingerprint identifies a key in logs without revealing it
func KeyFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			keyID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set(keyIDHeader, keyID)
			ctx := context.WithValue(r.Context(), KeyIDKey, keyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestKeyID returns the key id of an authenticated request, also after
// the request has left the auth middleware.
func RequestKeyID(r *http.Request) string {
	if keyID := GetKeyID(r.Context()); keyID != "" {
		return keyID
	}
	return r.Header.Get(keyIDHeader)
}

func GetKeyID(ctx context.Context) string {
	keyID, _ := ctx.Value(KeyIDKey).(string)
	return keyID
}
