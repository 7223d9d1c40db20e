package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is deliberately thin: the relay stands in for the real,
// out-of-scope auth system, so it only needs something to check. DeviceID
// is optional and unused by the relay itself; it rides along for a
// client that wants to embed it for debugging.
type claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id,omitempty"`
}

type ctxKey int

const ctxKeyUserID ctxKey = iota

// IssueToken mints a dev-mode bearer token for subject, signed with key.
// cmd/dequeue-relayd uses this to hand out a token when it boots without a
// real identity provider.
func IssueToken(key []byte, subject, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID: deviceID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(key)
}

func verifyToken(key []byte, tokenString string) (*claims, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("token invalid")
	}
	return &c, nil
}

// requireBearer verifies the Authorization: Bearer <token> header and
// injects the subject into the request context.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		c, err := verifyToken(s.signingKey, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, c.Subject)
		next(w, r.WithContext(ctx))
	}
}
