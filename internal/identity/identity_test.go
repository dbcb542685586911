package identity_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skovgaard/auctiond/internal/identity"
	"github.com/skovgaard/auctiond/internal/store"
)

type fakeUsers struct {
	mu      sync.Mutex
	upserts int
	byExt   map[string]*store.User
}

func (f *fakeUsers) Upsert(_ context.Context, externalID, displayName string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.byExt == nil {
		f.byExt = make(map[string]*store.User)
	}
	u, ok := f.byExt[externalID]
	if !ok {
		u = &store.User{ID: "uid-" + externalID, ExternalID: externalID}
		f.byExt[externalID] = u
	}
	u.DisplayName = displayName
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*store.User, error) {
	return nil, store.ErrNotFound
}

const secret = "test-secret"

func signToken(t *testing.T, key, subject, name string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"name": name,
		"exp":  time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	users := &fakeUsers{}
	v := identity.NewVerifier(secret, users, slog.Default())

	user, err := v.Authenticate(ctx, signToken(t, secret, "ext-1", "Alice", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "uid-ext-1", user.ID)
	assert.Equal(t, "ext-1", user.ExternalID)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, 1, users.upserts)

	// Same subject maps to the same user row.
	again, err := v.Authenticate(ctx, signToken(t, secret, "ext-1", "Alice", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, 2, users.upserts)
}

func TestAuthenticate_SubjectAsFallbackName(t *testing.T) {
	users := &fakeUsers{}
	v := identity.NewVerifier(secret, users, slog.Default())

	user, err := v.Authenticate(context.Background(), signToken(t, secret, "ext-2", "", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "ext-2", user.DisplayName)
}

func TestAuthenticate_Rejections(t *testing.T) {
	users := &fakeUsers{}
	v := identity.NewVerifier(secret, users, slog.Default())

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, "other-secret", "ext-1", "Alice", time.Hour)},
		{"expired", signToken(t, secret, "ext-1", "Alice", -time.Hour)},
		{"missing subject", signToken(t, secret, "", "Alice", time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, identity.ErrInvalidToken)
		})
	}
	assert.Zero(t, users.upserts)
}

func TestAuthenticate_RejectsUnsignedToken(t *testing.T) {
	users := &fakeUsers{}
	v := identity.NewVerifier(secret, users, slog.Default())

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ext-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Authenticate(context.Background(), signed)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}
