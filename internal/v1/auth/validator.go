// Package auth parses and cryptographically verifies bearer tokens, checks
// expiry/issuer/audience, and extracts the Principal attached to a session.
// Signing keys come from a cached, auto-refreshing JWKS endpoint
// (lestrrat-go/jwx/v2); claim verification is golang-jwt/jwt/v5.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/collabgateway/gateway/internal/v1/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"k8s.io/utils/set"
)

func decodeJWTSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(seg)
}

func decodeJSONInto(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Claims is the JWT claim shape this validator understands. Unknown claims
// are ignored; only Subject is strictly required.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username,omitempty"`
	Email             string      `json:"email,omitempty"`
	GivenName         string      `json:"given_name,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access,omitempty"`
}

// RealmAccess carries the realm-level role set a claims payload declares.
type RealmAccess struct {
	Roles []string `json:"roles,omitempty"`
}

// Principal is the validated identity attached to a session for its
// lifetime. Immutable once produced.
type Principal struct {
	UserID   string
	Username string
	Email    string
	FullName string
	Roles    set.Set[string]
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return p.Roles.Has(role)
}

// HasAnyRole reports whether the principal carries at least one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the principal carries every one of roles.
func (p Principal) HasAllRoles(roles ...string) bool {
	return p.Roles.HasAll(roles...)
}

func principalFromClaims(c *Claims) (*Principal, error) {
	if c.Subject == "" {
		return nil, errors.New("auth: token has no sub claim")
	}

	username := c.PreferredUsername
	if username == "" {
		username = c.Email
	}
	if username == "" {
		username = "user_" + c.Subject
	}

	var fullName string
	if c.GivenName != "" && c.FamilyName != "" {
		fullName = c.GivenName + " " + c.FamilyName
	}

	roles := set.New[string]()
	roles.Insert(c.RealmAccess.Roles...)

	return &Principal{
		UserID:   c.Subject,
		Username: username,
		Email:    c.Email,
		FullName: fullName,
		Roles:    roles,
	}, nil
}

// TokenValidator is the gateway's handshake-time auth collaborator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Principal, error)
}

// Validator provides JWKS-backed JWT validation: key retrieval, issuer
// verification, and an optional audience check.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string // empty means "do not enforce"
}

// NewValidator builds a Validator that fetches signing keys from
// https://domain/.well-known/jwks.json, cached and auto-refreshed. audience,
// when empty, disables the audience check entirely.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("auth: failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("auth: failed to register JWKS URL in cache: %w", err)
	}

	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("auth: failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		// Reject non-RSA tokens before looking up a key: returning the RSA
		// public key for an HS256 token would let an attacker use it as the
		// HMAC secret (algorithm confusion).
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("auth: kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("auth: key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("auth: failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
	}, nil
}

// ValidateToken parses and validates tokenString, returning the extracted
// Principal on success. Never returns raw token material in its error; the
// failure reason is a short string suitable for an error frame.
func (v *Validator) ValidateToken(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, errors.New("auth: token is empty")
	}

	parserOpts := []jwt.ParserOption{jwt.WithIssuer(v.issuer)}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("auth: failed to cast claims")
	}

	return principalFromClaims(claims)
}

// GetAllowedOriginsFromEnv reads a comma-separated origin list from
// envVarName, falling back to defaultEnvs (and logging the fallback) when
// the variable is unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set, using default origins: %v", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockValidator is a development-only TokenValidator that trusts the token's
// own unverified claims. It extracts whatever sub/name/email claims a
// well-formed-looking token carries (name becomes the username) and otherwise falls back to
// fixed development defaults; it never checks a signature.
type MockValidator struct{}

func (m *MockValidator) ValidateToken(tokenString string) (*Principal, error) {
	claims := &Claims{}
	claims.Subject = "dev-user-123"
	claims.PreferredUsername = "Dev User"
	claims.Email = "dev@example.com"

	if parts := strings.Split(tokenString, "."); len(parts) == 3 {
		if payload, err := decodeJWTSegment(parts[1]); err == nil {
			var raw map[string]any
			if decodeJSONInto(payload, &raw) == nil {
				if sub, ok := raw["sub"].(string); ok && sub != "" {
					claims.Subject = sub
				}
				if name, ok := raw["name"].(string); ok && name != "" {
					claims.PreferredUsername = name
				}
				if email, ok := raw["email"].(string); ok && email != "" {
					claims.Email = email
				}
			}
		}
	}

	return principalFromClaims(claims)
}
