package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier checks HS256 tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify returns the identity carried by token or entity.ErrInvalidToken.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (entity.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return entity.Identity{}, fmt.Errorf("%w: %v", entity.ErrInvalidToken, err)
	}

	userID := firstString(claims, "sub", "user_id", "userId", "id")
	if userID == "" {
		return entity.Identity{}, fmt.Errorf("%w: token has no subject", entity.ErrInvalidToken)
	}

	role := firstString(claims, "role", "userType")
	if role == "" {
		role = entity.RoleCustomer
	}
	return entity.Identity{ID: userID, Role: strings.ToLower(role)}, nil
}

// Sign issues a token for identity. Used by tests and local tooling.
func (v *JWTVerifier) Sign(identity entity.Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  identity.ID,
		"role": identity.Role,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func firstString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch val := claims[key].(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", val)
		}
	}
	return ""
}
