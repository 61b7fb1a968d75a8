/*
Package session turns bearer tokens into access.Session values and back.

TOKENS:
  Locally issued tokens are HS256 JWTs signed with the server secret.
  Deployments that sign in through an external identity provider can add a
  JWKS verifier; the Chain tries each verifier in order.

CLAIMS:
  sub       - staff user ID or member ID
  kind      - "staff" | "member"
  role      - access.Role
  group_id  - required for members
  name      - display name
  email     - staff only

  Anything that does not decode into a well-formed session yields
  access.NoSession{} and an error wrapping access.ErrUnauthenticated.

SEE ALSO:
  - access/session.go: the Session union and ClassifyPrincipal
  - api/auth.go: HTTP middleware
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/vsla-engine/access"
)

// MinSecretLength is the shortest HS256 secret NewCodec accepts.
const MinSecretLength = 32

var (
	ErrInvalidToken = fmt.Errorf("invalid session token: %w", access.ErrUnauthenticated)
	ErrWeakSecret   = errors.New("session secret is too short")
)

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Kind    access.Kind `json:"kind"`
	Role    access.Role `json:"role"`
	GroupID string      `json:"group_id,omitempty"`
	Name    string      `json:"name,omitempty"`
	Email   string      `json:"email,omitempty"`
}

// Session decodes the claims into the access union.
func (c *Claims) Session() (access.Session, error) {
	switch c.Kind {
	case access.KindStaff:
		return access.StaffSession{UserID: c.Subject, Name: c.Name, Email: c.Email, Role: c.Role}, nil
	case access.KindMember:
		return access.MemberSession{MemberID: c.Subject, GroupID: c.GroupID, Name: c.Name, Role: c.Role}, nil
	}
	return access.NoSession{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, c.Kind)
}

// ClaimsFor builds claims for a session. The session must classify.
func ClaimsFor(s access.Session) (Claims, error) {
	p, err := access.ClassifyPrincipal(s)
	if err != nil {
		return Claims{}, err
	}
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.SubjectID},
		Kind:             p.Kind,
		Role:             p.Role,
		GroupID:          p.GroupID,
		Name:             p.Name,
	}
	switch v := s.(type) {
	case access.StaffSession:
		c.Email = v.Email
	case *access.StaffSession:
		c.Email = v.Email
	}
	return c, nil
}

// Verifier resolves a raw token into a session.
type Verifier interface {
	Verify(ctx context.Context, token string) (access.Session, error)
}

// Chain tries verifiers in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (access.Session, error) {
	err := error(ErrInvalidToken)
	for _, v := range c {
		if v == nil {
			continue
		}
		s, verr := v.Verify(ctx, token)
		if verr == nil {
			return s, nil
		}
		err = verr
	}
	return access.NoSession{}, err
}

// =============================================================================
// HS256 CODEC
// =============================================================================

// Codec issues and verifies locally signed tokens.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

func NewCodec(secret []byte, issuer string, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &Codec{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

// Issue signs a token for s and returns it with its expiry.
func (c *Codec) Issue(s access.Session) (string, time.Time, error) {
	claims, err := ClaimsFor(s)
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now()
	expires := now.Add(c.ttl)
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expires)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, expires, nil
}

// Verify parses and validates a token signed by this codec.
func (c *Codec) Verify(_ context.Context, token string) (access.Session, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return access.NoSession{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Session()
}
