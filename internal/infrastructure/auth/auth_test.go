package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(&config.AuthConfig{
		JWTSecret:   "test-secret-at-least-32-characters",
		TokenExpiry: time.Hour,
		Issuer:      "openlot-test",
	})
	require.NoError(t, err)
	return svc
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t)
	userID := uuid.New()

	token, err := svc.GenerateToken(userID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "openlot-test", claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newTestService(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewService(&config.AuthConfig{JWTSecret: "a-different-secret-entirely-here"})
		require.NoError(t, err)
		token, err := other.GenerateToken(uuid.New(), "bob")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		issued := newTestService(t)
		issued.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := issued.GenerateToken(uuid.New(), "carol")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("unexpected signing method", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: uuid.New()})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("missing user id", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "nobody",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte("test-secret-at-least-32-characters"))
		require.NoError(t, err)

		_, err = svc.ValidateToken(signed)
		assert.Error(t, err)
	})
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(&config.AuthConfig{})
	assert.Error(t, err)

	_, err = NewService(nil)
	assert.Error(t, err)
}
