package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/access"
)

// JWKSConfig configures tokens signed by an external identity provider.
type JWKSConfig struct {
	URL             string
	Issuer          string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// JWKSVerifier validates RS256/ES256 tokens against a remote key set.
type JWKSVerifier struct {
	kf     keyfunc.Keyfunc
	issuer string
	leeway time.Duration
}

// NewJWKSVerifier starts a background refresh of the key set at cfg.URL.
// The first fetch may fail; the server still starts and retries on refresh.
func NewJWKSVerifier(cfg JWKSConfig, log zerolog.Logger) (*JWKSVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(cfg.URL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Error().Err(err).Str("url", cfg.URL).Msg("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	return NewJWKSVerifierWithKeyfunc(kf, cfg.Issuer, cfg.Leeway), nil
}

// NewJWKSVerifierWithKeyfunc wraps an existing keyfunc, e.g. one built from
// static JWKS JSON in tests.
func NewJWKSVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration) *JWKSVerifier {
	return &JWKSVerifier{kf: kf, issuer: issuer, leeway: leeway}
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (access.Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.kf.KeyfuncCtx(ctx), opts...); err != nil {
		return access.NoSession{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Session()
}
