package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClaims(role, profile string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Role:      role,
		ProfileID: profile,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "auth-user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestHS256Verify(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{HS256Secret: "test-secret"})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims("patient", "pat-1", time.Hour)).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "pat-1", claims.ProfileID)

	actor, err := ActorFromClaims(claims)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: "pat-1", Role: RolePatient, Subject: "auth-user-1"}, actor)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims("admin", "x", time.Hour)).SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{HS256Secret: "s"})
	require.NoError(t, err)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims("clinic", "c-1", -time.Minute)).SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{JWKS: NewJWKSClient(srv.URL, time.Minute)})
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, newClaims("doctor", "doc-9", time.Hour))
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	claims, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "doctor", claims.Role)

	// HS256 must not be accepted when only RSA keys are configured.
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims("admin", "a", time.Hour)).SignedString([]byte("anything"))
	require.NoError(t, err)
	_, err = v.Verify(hs)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ActorFromRequest(r)
	assert.ErrorIs(t, err, ErrNoActor)

	Actor{ID: "clinic-1", Role: RoleClinic}.SetHeaders(r.Header)
	actor, err := ActorFromRequest(r)
	require.NoError(t, err)
	assert.True(t, actor.Is(RoleClinic, RoleAdmin))
	assert.True(t, actor.Owns(RoleClinic, "clinic-1"))
	assert.False(t, actor.Owns(RoleClinic, "clinic-2"))
	assert.True(t, Actor{ID: "root", Role: RoleAdmin}.Owns(RolePatient, "p-1"))

	StripHeaders(r.Header)
	assert.Empty(t, r.Header.Get(HeaderActorID))
}
