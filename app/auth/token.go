package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock skew allowed for time based claims.
const DefaultLeeway = 5 * time.Second

// supported signing algorithms, exactly one is pinned per verifier
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
)

// TokenConfig defines how bearer tokens are verified.
type TokenConfig struct {
	Algorithm    string // pinned signing algorithm, HS256 if empty
	Secret       []byte // shared secret for HS256
	PublicKeyPEM []byte // public key for RS256 and ES256
	Issuer       string
	Audience     string
	Leeway       time.Duration    // DefaultLeeway if zero
	Now          func() time.Time // time source for claim validation, time.Now if nil
}

// TokenVerifier validates signed bearer tokens against a single pinned algorithm.
type TokenVerifier struct {
	alg    string
	key    any
	parser *jwt.Parser
}

// NewTokenVerifier makes a verifier for the configured algorithm and key.
func NewTokenVerifier(cfg TokenConfig) (*TokenVerifier, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = AlgHS256
	}

	var key any
	var err error
	switch alg {
	case AlgHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("token secret is required for HS256")
		}
		key = cfg.Secret
	case AlgRS256:
		if key, err = jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM); err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
	case AlgES256:
		if key, err = jwt.ParseECPublicKeyFromPEM(cfg.PublicKeyPEM); err != nil {
			return nil, fmt.Errorf("failed to parse EC public key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported token algorithm %q", alg)
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &TokenVerifier{alg: alg, key: key, parser: jwt.NewParser(opts...)}, nil
}

// Algorithm returns the pinned signing algorithm.
func (v *TokenVerifier) Algorithm() string { return v.alg }

// Verify validates the token and returns its principal, or nil on any failure.
// Only the failure category is logged, never the token.
func (v *TokenVerifier) Verify(_ context.Context, token string) (res *Principal) {
	if v == nil || token == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] token verification panic, len %d", len(token))
			res = nil
		}
	}()

	parsed, err := v.parser.Parse(token, func(*jwt.Token) (any, error) { return v.key, nil })
	if err != nil {
		log.Printf("[DEBUG] token rejected: %s, len %d", tokenFailure(err), len(token))
		return nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		log.Printf("[DEBUG] token rejected: malformed claims, len %d", len(token))
		return nil
	}

	subject := stringClaim(claims, "sub")
	if subject == "" {
		subject = stringClaim(claims, "user_id")
	}
	tenant := stringClaim(claims, "tenant_id")
	if subject == "" || tenant == "" {
		log.Printf("[DEBUG] token rejected: missing subject or tenant claim, len %d", len(token))
		return nil
	}

	return &Principal{
		SubjectID: subject,
		UserID:    subject,
		TenantID:  tenant,
		Role:      stringClaim(claims, "role"),
		Scopes:    scopeClaims(claims),
		Kind:      KindToken,
	}
}

// tokenFailure maps jwt errors to a loggable category.
func tokenFailure(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not valid yet"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "signature or algorithm"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	default:
		return "invalid"
	}
}

// stringClaim returns a string claim, numeric ids are formatted as integers.
func stringClaim(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// scopeClaims reads scopes from "scopes" array or space-delimited "scope".
func scopeClaims(claims jwt.MapClaims) []string {
	var res []string
	if list, ok := claims["scopes"].([]any); ok {
		for _, s := range list {
			if str, ok := s.(string); ok && str != "" {
				res = append(res, str)
			}
		}
	}
	if s, ok := claims["scope"].(string); ok {
		res = append(res, strings.Fields(s)...)
	}
	return normalizeScopes(res)
}

// TokenClaims are the claims minted by TokenIssuer.
type TokenClaims struct {
	Subject  string
	TenantID string
	Role     string
	Scopes   []string
}

// TokenIssuer mints HS256 tokens, used by dev tooling and tests.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer makes an issuer signing with secret. Zero ttl means one hour.
func NewTokenIssuer(secret []byte, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuer, audience: audience, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the claims.
func (ti *TokenIssuer) Issue(c TokenClaims) (string, error) {
	if c.Subject == "" || c.TenantID == "" {
		return "", errors.New("subject and tenant are required")
	}
	now := ti.now()
	claims := jwt.MapClaims{
		"sub":       c.Subject,
		"tenant_id": c.TenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(ti.ttl).Unix(),
	}
	if ti.issuer != "" {
		claims["iss"] = ti.issuer
	}
	if ti.audience != "" {
		claims["aud"] = ti.audience
	}
	if c.Role != "" {
		claims["role"] = c.Role
	}
	if len(c.Scopes) > 0 {
		claims["scopes"] = c.Scopes
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
