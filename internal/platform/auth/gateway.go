package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/telemetry"
)

// SessionPath is the Gateway endpoint that resolves forwarded credentials.
const SessionPath = "/api/auth/session"

// Gateway lookup results recorded on zibfhir_gateway_requests_total.
const (
	GatewayOK           = "ok"
	GatewayUnauthorized = "unauthorized"
	GatewayError        = "error"
	GatewayCacheHit     = "cache_hit"
	GatewayLocalJWT     = "local_jwt"
)

// HeaderAPIKey carries a Gateway API key.
const HeaderAPIKey = "X-API-Key"

// Credentials are the request headers forwarded to the Gateway.
type Credentials struct {
	Cookie        string
	APIKey        string
	Authorization string
}

// CredentialsFromRequest collects the forwardable credentials of r.
func CredentialsFromRequest(r *http.Request) Credentials {
	return Credentials{
		Cookie:        r.Header.Get("Cookie"),
		APIKey:        r.Header.Get(HeaderAPIKey),
		Authorization: r.Header.Get("Authorization"),
	}
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool {
	return c.Cookie == "" && c.APIKey == "" && c.Authorization == ""
}

// BearerToken returns the token of a "Bearer" Authorization header.
func (c Credentials) BearerToken() (string, bool) {
	parts := strings.SplitN(c.Authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// CacheKey is the SHA-256 of the credentials, so raw secrets never reach the cache.
func (c Credentials) CacheKey() string {
	sum := sha256.Sum256([]byte(c.Cookie + "\x00" + c.APIKey + "\x00" + c.Authorization))
	return "zibfhir:session:" + hex.EncodeToString(sum[:])
}

// Identity is the Gateway user behind a set of credentials.
type Identity struct {
	UserID string   `json:"userId"`
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// IdentityProvider resolves credentials to an Identity. Implementations
// return a *fhir.Error: 401 for rejected credentials, 502 when the
// Gateway cannot be reached.
type IdentityProvider interface {
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// sessionResponse is the body of a successful session lookup.
type sessionResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Scopes []string `json:"scopes"`
}

// GatewayClient authenticates requests against the Gateway session endpoint.
// Lookups are never retried.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	metrics *telemetry.Metrics
}

func NewGatewayClient(baseURL string, timeout time.Duration, metrics *telemetry.Metrics) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// ErrUnauthenticated is the 401 returned for missing or rejected credentials.
func ErrUnauthenticated(msg string) *fhir.Error {
	return fhir.NewError(http.StatusUnauthorized, fhir.IssueTypeLogin, msg)
}

func gatewayUnavailable(cause error) *fhir.Error {
	return fhir.WrapError(http.StatusBadGateway, fhir.IssueTypeTransient,
		"authentication gateway unavailable", cause)
}

// Authenticate calls GET {base}/api/auth/session with the forwarded credentials.
func (g *GatewayClient) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	id, err := g.lookup(ctx, creds)
	switch {
	case err == nil:
		g.metrics.RecordGateway(GatewayOK)
	case fhir.ToError(err).Status == http.StatusUnauthorized:
		g.metrics.RecordGateway(GatewayUnauthorized)
	default:
		g.metrics.RecordGateway(GatewayError)
	}
	return id, err
}

func (g *GatewayClient) lookup(ctx context.Context, creds Credentials) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+SessionPath, nil)
	if err != nil {
		return nil, gatewayUnavailable(fmt.Errorf("build session request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if creds.Cookie != "" {
		req.Header.Set("Cookie", creds.Cookie)
	}
	if creds.APIKey != "" {
		req.Header.Set(HeaderAPIKey, creds.APIKey)
	}
	if creds.Authorization != "" {
		req.Header.Set("Authorization", creds.Authorization)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, gatewayUnavailable(fmt.Errorf("GET %s: %w", SessionPath, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthenticated("invalid or expired session")
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, gatewayUnavailable(fmt.Errorf("session endpoint returned status %d", resp.StatusCode))
	}

	var body sessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, gatewayUnavailable(fmt.Errorf("decode session response: %w", err))
	}
	if body.User.ID == "" {
		// some Gateways answer 200 with a null session
		return nil, ErrUnauthenticated("invalid or expired session")
	}
	return &Identity{UserID: body.User.ID, Email: body.User.Email, Scopes: body.Scopes}, nil
}

// Authenticator chains local JWT verification, the session cache and the
// Gateway. Any of them may be nil.
type Authenticator struct {
	jwt     *JWTVerifier
	cache   SessionCache
	gateway IdentityProvider
	metrics *telemetry.Metrics
}

func NewAuthenticator(jwt *JWTVerifier, cache SessionCache, gateway IdentityProvider, metrics *telemetry.Metrics) *Authenticator {
	return &Authenticator{jwt: jwt, cache: cache, gateway: gateway, metrics: metrics}
}

// Authenticate resolves creds, preferring a locally verifiable token.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if a.jwt != nil {
		if token, ok := creds.BearerToken(); ok {
			id, err := a.jwt.Verify(token)
			switch {
			case err == nil:
				a.metrics.RecordGateway(GatewayLocalJWT)
				return id, nil
			case !errors.Is(err, ErrNotLocalToken):
				return nil, ErrUnauthenticated("invalid bearer token")
			}
		}
	}

	key := creds.CacheKey()
	if a.cache != nil {
		if id, ok := a.cache.Get(ctx, key); ok {
			a.metrics.RecordGateway(GatewayCacheHit)
			return id, nil
		}
	}

	if a.gateway == nil {
		return nil, ErrUnauthenticated("credentials cannot be verified")
	}
	id, err := a.gateway.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, key, id)
	}
	return id, nil
}
