package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotLocalToken means the bearer token is not an HS256 JWT of the
// configured issuer and has to be resolved by the Gateway.
var ErrNotLocalToken = errors.New("token is not a locally verifiable gateway JWT")

// gatewayClaims are the claims of a Gateway issued session token. Scopes
// use the OAuth space separated "scope" claim.
type gatewayClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// JWTVerifier checks Gateway session tokens with the shared HS256 secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier returns nil when no secret is configured.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	if secret == "" {
		return nil
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates token and returns the identity it carries. Tokens that
// are not HS256 or name another issuer yield ErrNotLocalToken.
func (v *JWTVerifier) Verify(token string) (*Identity, error) {
	peek := &gatewayClaims{}
	unverified, _, err := jwt.NewParser().ParseUnverified(token, peek)
	if err != nil {
		return nil, ErrNotLocalToken
	}
	if unverified.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, ErrNotLocalToken
	}
	if v.issuer != "" && peek.Issuer != v.issuer {
		return nil, ErrNotLocalToken
	}

	claims := &gatewayClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify gateway token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("verify gateway token: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("gateway token has no subject")
	}
	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Scopes: strings.Fields(claims.Scope),
	}, nil
}
