// Package identity verifies bearer tokens and binds them to user rows. The
// token is an HMAC-signed JWT issued by the external identity provider; the
// subject is the external user id, upserted as a User on first sight.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skovgaard/auctiond/internal/store"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid session token")

type claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier authenticates session tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	users  store.UserRepository
	logger *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(secret string, users store.UserRepository, logger *slog.Logger) *Verifier {
	return &Verifier{secret: []byte(secret), users: users, logger: logger}
}

// Authenticate verifies the token and returns the matching user, creating
// the row on first sight of the external subject.
func (v *Verifier) Authenticate(ctx context.Context, token string) (*store.User, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	displayName := c.DisplayName
	if displayName == "" {
		displayName = c.Subject
	}
	user, err := v.users.Upsert(ctx, c.Subject, displayName)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	v.logger.DebugContext(ctx, "authenticated session",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)
	return user, nil
}
