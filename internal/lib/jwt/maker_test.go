package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "identity-service-shared-secret"

func signed(t *testing.T, method gojwt.SigningMethod, claims gojwt.Claims, secret string) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseToken_Roles(t *testing.T) {
	maker := NewJWTMaker(testSecret, time.Hour)

	for _, role := range []string{RoleUser, RoleAdmin} {
		t.Run(role, func(t *testing.T) {
			token, err := maker.GenerateToken("9f0c2a4e-user", role)
			require.NoError(t, err)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, "9f0c2a4e-user", claims.UserID())
			assert.Equal(t, role, claims.Role)
			assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 2*time.Second)
		})
	}
}

func TestParseToken_Rejects(t *testing.T) {
	maker := NewJWTMaker(testSecret, time.Hour)
	exp := gojwt.NewNumericDate(time.Now().Add(time.Hour))

	valid, err := maker.GenerateToken("u1", RoleUser)
	require.NoError(t, err)
	expired, err := NewJWTMaker(testSecret, -time.Minute).GenerateToken("u1", RoleUser)
	require.NoError(t, err)
	noSubject, err := maker.GenerateToken("", RoleUser)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "tampered signature", token: valid + "x"},
		{name: "expired", token: expired},
		{name: "no subject", token: noSubject},
		{
			name:  "foreign secret",
			token: signed(t, gojwt.SigningMethodHS256, CustomClaims{Role: RoleAdmin, RegisteredClaims: gojwt.RegisteredClaims{Subject: "u1", ExpiresAt: exp}}, "other-secret"),
		},
		{
			name:  "other hmac algorithm",
			token: signed(t, gojwt.SigningMethodHS512, CustomClaims{Role: RoleUser, RegisteredClaims: gojwt.RegisteredClaims{Subject: "u1", ExpiresAt: exp}}, testSecret),
		},
		{
			name:  "no expiry",
			token: signed(t, gojwt.SigningMethodHS256, CustomClaims{Role: RoleUser, RegisteredClaims: gojwt.RegisteredClaims{Subject: "u1"}}, testSecret),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestParseToken_IgnoresIssuerTTL(t *testing.T) {
	issuer := NewJWTMaker(testSecret, 5*time.Minute)
	verifier := NewJWTMaker(testSecret, 0)

	token, err := issuer.GenerateToken("u1", RoleUser)
	require.NoError(t, err)

	claims, err := verifier.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
}
