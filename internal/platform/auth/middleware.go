// Package auth authenticates FHIR requests against the Gateway, resolves
// the caller's role in the requested tenant and applies the coarse RBAC
// table before any data is touched.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nlcore/zib-fhir/internal/platform/db"
	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

type contextKey string

const principalKey contextKey = "auth_principal"

// HeaderTenantID selects the tenant of a request.
const HeaderTenantID = "X-Tenant-ID"

// DevUserID is the user of the development principal.
const DevUserID = "dev-user"

// Principal is the authenticated caller inside one tenant.
type Principal struct {
	UserID         string
	Email          string
	TenantID       string
	Role           string
	PatientID      string
	PractitionerID string
	Scopes         []string
}

// Session is the database session row-level security sees for p.
func (p Principal) Session() db.Session {
	return db.Session{
		TenantID:       p.TenantID,
		UserID:         p.UserID,
		Role:           p.Role,
		PatientID:      p.PatientID,
		PractitionerID: p.PractitionerID,
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// MappingLookup finds the role of a Gateway user in a tenant.
type MappingLookup interface {
	LookupUserMapping(ctx context.Context, tenantID, userID string) (*db.UserMapping, error)
}

// Config wires the Middleware. With DevMode set and no Identity provider
// every request runs as admin of the requested tenant.
type Config struct {
	Identity IdentityProvider
	Mappings MappingLookup
	DevMode  bool
	Logger   zerolog.Logger
}

// Middleware holds the authentication and authorization handlers of the
// FHIR route group.
type Middleware struct {
	identity IdentityProvider
	mappings MappingLookup
	dev      bool
	logger   zerolog.Logger
}

func NewMiddleware(cfg Config) *Middleware {
	return &Middleware{
		identity: cfg.Identity,
		mappings: cfg.Mappings,
		dev:      cfg.DevMode && cfg.Identity == nil,
		logger:   cfg.Logger,
	}
}

// Authenticate resolves the caller and tenant and attaches both the
// Principal and the database session to the request context.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		creds := CredentialsFromRequest(req)
		if creds.Empty() && !m.dev {
			return ErrUnauthenticated("authentication required: send a session cookie, X-API-Key or bearer token")
		}

		tenantID := req.Header.Get(HeaderTenantID)
		if !db.ValidTenantID(tenantID) {
			return fhir.NewError(http.StatusBadRequest, fhir.IssueTypeInvalid,
				"X-Tenant-ID header is required and must match [a-zA-Z0-9_-]{1,64}")
		}

		var p Principal
		if m.dev {
			p = Principal{UserID: DevUserID, TenantID: tenantID, Role: "admin"}
		} else {
			var err error
			if p, err = m.resolve(req.Context(), creds, tenantID); err != nil {
				return err
			}
		}

		ctx := WithPrincipal(req.Context(), p)
		ctx = db.WithSession(ctx, p.Session())
		c.SetRequest(req.WithContext(ctx))
		c.Set("tenant_id", p.TenantID)
		c.Set("user_id", p.UserID)
		c.Set("role", p.Role)
		return next(c)
	}
}

func (m *Middleware) resolve(ctx context.Context, creds Credentials, tenantID string) (Principal, error) {
	id, err := m.identity.Authenticate(ctx, creds)
	if err != nil {
		return Principal{}, err
	}

	mapping, err := m.mappings.LookupUserMapping(ctx, tenantID, id.UserID)
	if errors.Is(err, db.ErrMappingNotFound) {
		m.logger.Info().
			Str("user_id", id.UserID).
			Str("tenant_id", tenantID).
			Msg("no active role for user in tenant")
		return Principal{}, forbidden("no access to tenant " + tenantID)
	}
	if err != nil {
		return Principal{}, err
	}

	p := Principal{
		UserID:   id.UserID,
		Email:    id.Email,
		TenantID: mapping.TenantID,
		Role:     mapping.Role,
		Scopes:   id.Scopes,
	}
	if mapping.PatientID != nil {
		p.PatientID = *mapping.PatientID
	}
	if mapping.PractitionerID != nil {
		p.PractitionerID = *mapping.PractitionerID
	}
	return p, nil
}
