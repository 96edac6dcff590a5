package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

func signAccessToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "sma-presence"})
	now := time.Now()
	claims := models.JWTClaims{
		UserID: "teacher-1",
		Role:   models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sma-presence",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	parsed, err := svc.ValidateToken(signAccessToken(t, jwt.SigningMethodHS256, []byte("secret"), claims))
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", parsed.UserID)
	assert.Equal(t, models.RoleTeacher, parsed.Role)
}

func TestAuthServiceValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "sma-presence"})
	now := time.Now()
	valid := jwt.RegisteredClaims{Issuer: "sma-presence", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}

	cases := map[string]string{
		"wrong secret": signAccessToken(t, jwt.SigningMethodHS256, []byte("other"), models.JWTClaims{UserID: "u", RegisteredClaims: valid}),
		"expired": signAccessToken(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "sma-presence", ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		}}),
		"wrong issuer": signAccessToken(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "elsewhere", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}),
		"missing user": signAccessToken(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{RegisteredClaims: valid}),
		"wrong method": signAccessToken(t, jwt.SigningMethodHS384, []byte("secret"), models.JWTClaims{UserID: "u", RegisteredClaims: valid}),
		"not a token":  "abc.def",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
