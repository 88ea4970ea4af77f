// Package session decides whether a new WebSocket connection may be admitted
// to the relay. It only answers admitted or rejected; credential contents are
// not interpreted beyond extracting the subject for logging.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthenticationRejected is returned when a connection must not be admitted.
var ErrAuthenticationRejected = errors.New("authentication rejected")

// AnonymousSubject is the subject given to connections admitted without a token.
const AnonymousSubject = "anon"

// Identity is the verified claim attached to an admitted connection.
type Identity struct {
	Subject string
}

// Authenticator gates admission of a connection before it reaches the registry.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// Anonymous admits every request.
type Anonymous struct{}

// Authenticate implements Authenticator.
func (Anonymous) Authenticate(*http.Request) (Identity, error) {
	return Identity{Subject: AnonymousSubject}, nil
}

// JWT verifies HS256 tokens signed with a shared secret. The token is read
// from an "Authorization: Bearer" header or, since browsers cannot set headers
// on a WebSocket handshake, from the "token" query parameter.
type JWT struct {
	secret []byte
}

// NewJWT returns a JWT authenticator for secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Authenticate implements Authenticator.
func (j *JWT) Authenticate(r *http.Request) (Identity, error) {
	tok := tokenFromRequest(r)
	if tok == "" {
		return Identity{}, fmt.Errorf("%w: no token", ErrAuthenticationRejected)
	}
	sub, err := j.Verify(tok)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: sub}, nil
}

// Verify checks tok and returns its sub claim.
func (j *JWT) Verify(tok string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationRejected, err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: no sub", ErrAuthenticationRejected)
	}
	return sub, nil
}

// Sign creates a token for sub that expires after ttl.
func (j *JWT) Sign(sub string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", errors.New("empty subject")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

type ctxKey int

const identityKey ctxKey = 1

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by WithIdentity. ok is false when
// the request never passed the session boundary.
func FromContext(ctx context.Context) (id Identity, ok bool) {
	id, ok = ctx.Value(identityKey).(Identity)
	return id, ok
}
