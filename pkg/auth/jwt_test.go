package auth

import (
	"context"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret", "tripseats")
	token, err := v.Sign(entity.Identity{ID: "user-7", Role: "Staff"}, time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", identity.ID)
	assert.Equal(t, entity.RoleStaff, identity.Role)
	assert.False(t, identity.Anonymous)
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret", "tripseats")
	other := NewJWTVerifier("other-secret", "tripseats")

	badSignature, err := other.Sign(entity.Identity{ID: "user-7"}, time.Hour)
	require.NoError(t, err)
	expired, err := v.Sign(entity.Identity{ID: "user-7"}, -time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := NewJWTVerifier("secret", "elsewhere").Sign(entity.Identity{ID: "user-7"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "tripseats"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"bad signature": badSignature,
		"expired":       expired,
		"wrong issuer":  wrongIssuer,
		"no subject":    noSubject,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, entity.ErrInvalidToken)
		})
	}
}

func TestVerifyNumericUserID(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"role":    "customer",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	identity, err := NewJWTVerifier("secret", "").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "42", identity.ID)
}
