package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// TokenClaims are the claims the account issues in its bearer tokens.
// UserGUID is preferred over Subject when both are present.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserGUID string `json:"user_guid"`
	Username string `json:"username,omitempty"`
}

// Session is one signed-in user on this device. Everything sync-related
// (orchestrator, storage wrapper, transport) is scoped to a session and
// rebuilt when the user changes.
type Session struct {
	ID        string
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// NewSession reads the identity out of a bearer token.
//
// The signature is not verified here: the token was issued by the account
// and is only forwarded to it, and the account verifies it on every request.
// What the client needs is the user id (the encryption identity) and the expiry.
func NewSession(token string) (*Session, error) {
	if token == "" {
		return nil, &AuthError{Err: serr.New("no auth token configured")}
	}

	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, &AuthError{Err: serr.Wrap(err, "failed to parse auth token")}
	}

	userID := claims.UserGUID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, &AuthError{Err: serr.New("auth token carries no user id")}
	}

	s := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: claims.Username,
		Token:    token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}

	if s.Expired(time.Now()) {
		return nil, &AuthError{Err: serr.New("auth token expired at " + s.ExpiresAt.Format(time.RFC3339))}
	}
	return s, nil
}

// Identity is the value mixed into encryption keys.
func (s *Session) Identity() string {
	return s.UserID
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// IssueToken signs an HS256 token for userID. Local hubs and tests use it;
// production tokens come from the account.
func IssueToken(userID, signingKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "toolsync",
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserGUID: userID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		return "", serr.Wrap(err, "failed to sign token")
	}
	return token, nil
}
