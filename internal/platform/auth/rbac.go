package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// Permission is a bit set of FHIR interactions.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermSearch
	PermCreate
	PermUpdate
	PermDelete

	PermAll = PermRead | PermSearch | PermCreate | PermUpdate | PermDelete
)

var letterPermissions = map[rune]Permission{
	'c': PermCreate,
	'r': PermRead,
	'u': PermUpdate,
	'd': PermDelete,
	's': PermSearch,
}

// Has reports whether every bit of q is set in p. The zero permission is
// never granted.
func (p Permission) Has(q Permission) bool {
	return q != 0 && p&q == q
}

// PermissionFor maps an interaction onto its permission bit.
func PermissionFor(i fhir.Interaction) Permission {
	switch i {
	case fhir.InteractionRead:
		return PermRead
	case fhir.InteractionSearch:
		return PermSearch
	case fhir.InteractionCreate:
		return PermCreate
	case fhir.InteractionUpdate:
		return PermUpdate
	case fhir.InteractionDelete:
		return PermDelete
	}
	return 0
}

// perms builds a Permission from "rscud" style letters.
func perms(letters string) Permission {
	var p Permission
	for _, ch := range letters {
		bit, ok := letterPermissions[ch]
		if !ok {
			panic(fmt.Sprintf("auth: unknown permission letter %q", ch))
		}
		p |= bit
	}
	return p
}

// rolePermissions is the coarse role table checked before any data access.
// Row-level security narrows it further per row. Admin is handled apart.
var rolePermissions = map[string]map[string]Permission{
	"practitioner": {
		"Patient":            perms("rscu"),
		"Practitioner":       perms("rs"),
		"Organization":       perms("rs"),
		"Observation":        perms("rscu"),
		"Condition":          perms("rscu"),
		"AllergyIntolerance": perms("rscu"),
		"MedicationRequest":  perms("rscu"),
		"Encounter":          perms("rscu"),
	},
	"nurse": {
		"Patient":            perms("rs"),
		"Practitioner":       perms("rs"),
		"Organization":       perms("rs"),
		"Observation":        perms("rscu"),
		"Condition":          perms("rs"),
		"AllergyIntolerance": perms("rscu"),
		"MedicationRequest":  perms("rs"),
		"Encounter":          perms("rs"),
	},
	"receptionist": {
		"Patient":      perms("rscu"),
		"Practitioner": perms("rs"),
		"Organization": perms("rs"),
		"Encounter":    perms("rscu"),
	},
	"patient": {
		"Patient":            perms("rs"),
		"Practitioner":       perms("rs"),
		"Organization":       perms("rs"),
		"Observation":        perms("rs"),
		"Condition":          perms("rs"),
		"AllergyIntolerance": perms("rs"),
		"MedicationRequest":  perms("rs"),
		"Encounter":          perms("rs"),
	},
}

// RoleAllows reports whether role may perform interaction on resourceType.
func RoleAllows(role, resourceType string, interaction fhir.Interaction) bool {
	if role == "admin" {
		return PermissionFor(interaction) != 0
	}
	return rolePermissions[role][resourceType].Has(PermissionFor(interaction))
}

// Authorize rejects the request with 403 unless both the role table and
// the caller's scopes allow the interaction. It runs after Authenticate and
// after the resource type has been resolved from the :type parameter.
func (m *Middleware) Authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		resourceType := c.Param("type")
		interaction := fhir.InteractionFor(c.Request().Method, c.Param("id"), c.Path())
		if resourceType == "" || interaction == "" {
			// unrouted; the handler reports 404 or 405
			return next(c)
		}

		p, ok := PrincipalFromContext(c.Request().Context())
		if !ok {
			return ErrUnauthenticated("authentication required")
		}
		if !RoleAllows(p.Role, resourceType, interaction) {
			return forbidden(fmt.Sprintf("role %s may not %s %s", p.Role, interaction, resourceType))
		}
		if !ScopesAllow(p.Scopes, resourceType, interaction) {
			return forbidden(fmt.Sprintf("granted scopes do not allow %s on %s", interaction, resourceType))
		}
		return next(c)
	}
}

func forbidden(msg string) *fhir.Error {
	return fhir.NewError(http.StatusForbidden, fhir.IssueTypeForbidden, msg)
}
