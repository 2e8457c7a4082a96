package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nlcore/zib-fhir/internal/platform/auth"
	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// AuditEntry records who touched which FHIR resource, when and with what
// result.
type AuditEntry struct {
	Timestamp    time.Time
	RequestID    string
	TenantID     string
	UserID       string
	Role         string
	ResourceType string
	ResourceID   string
	PatientID    string
	Interaction  fhir.Interaction
	Method       string
	Path         string
	IPAddress    string
	UserAgent    string
	StatusCode   int
}

// Audit emits one "fhir_access" log event for every authenticated FHIR
// interaction, including the denied ones. Mount it inside the FHIR route
// group after Authenticate so the principal is known.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			p, ok := auth.PrincipalFromContext(req.Context())
			if !ok {
				return err
			}

			entry := AuditEntry{
				Timestamp:    time.Now().UTC(),
				TenantID:     p.TenantID,
				UserID:       p.UserID,
				Role:         p.Role,
				ResourceType: c.Param("type"),
				ResourceID:   c.Param("id"),
				Interaction:  fhir.InteractionFor(req.Method, c.Param("id"), c.Path()),
				Method:       req.Method,
				Path:         req.URL.Path,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   c.Response().Status,
			}
			if err != nil {
				entry.StatusCode = fhir.ToError(err).Status
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.PatientID = auditPatientID(c, entry.ResourceType, entry.ResourceID)

			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "fhir_audit").
				Time("timestamp", entry.Timestamp).
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("interaction", string(entry.Interaction)).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Msg("fhir_access")

			return err
		}
	}
}

// auditPatientID finds the patient a request is about: the Patient being
// read or written, or the patient/subject search parameter from the query or
// a POST _search form.
func auditPatientID(c echo.Context, resourceType, id string) string {
	if resourceType == "Patient" && id != "" {
		return id
	}
	for _, name := range []string{"patient", "subject"} {
		if v := c.FormValue(name); v != "" {
			v = strings.TrimPrefix(v, "Patient/")
			if fhir.IsUUID(v) {
				return strings.ToLower(v)
			}
		}
	}
	return ""
}
