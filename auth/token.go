package auth

import (
	"chat-session/domain"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims mirrors the claims the backend puts in access tokens.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// InspectToken decodes the claims of an access token without verifying
// its signature. The client never holds the signing key: the result is
// only used for display and for scheduling, the server stays the judge.
func InspectToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("inspect token: %w", err)
	}
	return claims, nil
}

// NewCredential wraps an access token, filling ExpiresAt when the token
// is a JWT carrying an exp claim. Opaque tokens are accepted as is.
func NewCredential(accessToken string) domain.Credential {
	credential := domain.Credential{AccessToken: accessToken}
	claims, err := InspectToken(accessToken)
	if err != nil || claims.ExpiresAt == nil {
		return credential
	}
	credential.ExpiresAt = claims.ExpiresAt.Time
	return credential
}

// ExpiresWithin reports whether the credential is known to expire before now+d.
func ExpiresWithin(credential domain.Credential, now time.Time, d time.Duration) bool {
	if credential.ExpiresAt.IsZero() {
		return false
	}
	return credential.ExpiresAt.Before(now.Add(d))
}
