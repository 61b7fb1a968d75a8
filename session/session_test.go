package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vsla-engine/access"
)

var testSecret = []byte(strings.Repeat("s", MinSecretLength))

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, "vsla-test", time.Hour)
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, now)
	ctx := context.Background()

	tests := []access.Session{
		access.StaffSession{UserID: "u-1", Name: "Okello", Email: "o@example.org", Role: access.RoleFieldMonitor},
		access.MemberSession{MemberID: "m-1", GroupID: "g-1", Name: "Nakato", Role: access.RoleFinance},
	}
	for _, s := range tests {
		token, expires, err := c.Issue(s)
		require.NoError(t, err)
		assert.WithinDuration(t, now.Add(time.Hour), expires, time.Second)

		got, err := c.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestCodec_IssueRejectsUnclassifiableSession(t *testing.T) {
	c := newTestCodec(t, time.Now())

	_, _, err := c.Issue(access.NoSession{})
	assert.ErrorIs(t, err, access.ErrUnauthenticated)

	_, _, err = c.Issue(access.MemberSession{MemberID: "m-1", Role: access.RoleMember})
	assert.ErrorIs(t, err, access.ErrUnauthenticated, "members need a group")
}

func TestCodec_VerifyFailures(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	old := newTestCodec(t, issued)
	expired, _, err := old.Issue(access.StaffSession{UserID: "u-1", Role: access.RoleAdmin})
	require.NoError(t, err)

	other, err := NewCodec([]byte(strings.Repeat("x", MinSecretLength)), "vsla-test", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Issue(access.StaffSession{UserID: "u-1", Role: access.RoleAdmin})
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", Issuer: "vsla-test", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Kind:             access.KindStaff,
		Role:             access.RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	c := newTestCodec(t, time.Now())
	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			s, err := c.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.ErrorIs(t, err, access.ErrUnauthenticated)
			assert.Equal(t, access.NoSession{}, s)
		})
	}
}

func TestNewCodec_WeakSecret(t *testing.T) {
	_, err := NewCodec([]byte("short"), "vsla", time.Hour)
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestClaims_UnknownKind(t *testing.T) {
	s, err := (&Claims{Kind: "robot"}).Session()
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, access.NoSession{}, s)
}

// =============================================================================
// JWKS
// =============================================================================

const testKeyID = "test-key"

func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func TestJWKSVerifier_AndChain(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	require.NoError(t, err)
	jwks := NewJWKSVerifierWithKeyfunc(kf, "https://idp.example.org", 0)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-9",
			Issuer:    "https://idp.example.org",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: access.KindStaff,
		Role: access.RoleFieldAttendant,
		Name: "Akinyi",
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	s, err := jwks.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, access.StaffSession{UserID: "u-9", Name: "Akinyi", Role: access.RoleFieldAttendant}, s)

	// The local codec rejects it; the chain falls through to JWKS.
	codec := newTestCodec(t, time.Now())
	_, err = codec.Verify(context.Background(), signed)
	assert.Error(t, err)

	chain := Chain{codec, jwks}
	s, err = chain.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, access.RoleFieldAttendant, s.(access.StaffSession).Role)

	local, _, err := codec.Issue(access.MemberSession{MemberID: "m-1", GroupID: "g-1", Role: access.RoleMember})
	require.NoError(t, err)
	_, err = chain.Verify(context.Background(), local)
	assert.NoError(t, err)

	_, err = Chain{}.Verify(context.Background(), local)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
