package auth

import (
	"strings"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// SMARTScope is a parsed SMART on FHIR resource scope.
// Format: <context>/<resourceType>.<permissions>
// Examples: patient/Patient.read, user/Observation.rs, system/*.*
type SMARTScope struct {
	Context      string // "patient", "user" or "system"
	ResourceType string // e.g. "Patient", "Observation", "*"
	Permissions  Permission
}

// ParseScope parses a resource scope. Scopes of another shape (openid,
// launch, fhirUser) and v2 scopes with a query restriction are rejected.
func ParseScope(s string) (SMARTScope, bool) {
	slash := strings.Index(s, "/")
	if slash < 0 {
		return SMARTScope{}, false
	}
	ctx, rest := s[:slash], s[slash+1:]
	switch ctx {
	case "patient", "user", "system":
	default:
		return SMARTScope{}, false
	}
	if strings.Contains(rest, "?") {
		return SMARTScope{}, false
	}
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 {
		return SMARTScope{}, false
	}
	perms, ok := parseScopePermissions(rest[dot+1:])
	if !ok {
		return SMARTScope{}, false
	}
	return SMARTScope{Context: ctx, ResourceType: rest[:dot], Permissions: perms}, true
}

// parseScopePermissions accepts the v1 verbs and the v2 "cruds" letters,
// which must appear in that order.
func parseScopePermissions(s string) (Permission, bool) {
	switch s {
	case "*":
		return PermAll, true
	case "read":
		return PermRead | PermSearch, true
	case "write":
		return PermCreate | PermUpdate | PermDelete, true
	case "":
		return 0, false
	}
	var (
		p    Permission
		last = -1
	)
	for _, ch := range s {
		i := strings.IndexRune("cruds", ch)
		if i <= last {
			return 0, false
		}
		last = i
		p |= letterPermissions[ch]
	}
	return p, true
}

// Covers reports whether the scope grants interaction on resourceType.
func (s SMARTScope) Covers(resourceType string, interaction fhir.Interaction) bool {
	if s.ResourceType != "*" && s.ResourceType != resourceType {
		return false
	}
	return s.Permissions.Has(PermissionFor(interaction))
}

// ScopesAllow reports whether granted covers the interaction. An empty
// scope list means the Gateway does not restrict by scope.
func ScopesAllow(granted []string, resourceType string, interaction fhir.Interaction) bool {
	if len(granted) == 0 {
		return true
	}
	for _, raw := range granted {
		if s, ok := ParseScope(raw); ok && s.Covers(resourceType, interaction) {
			return true
		}
	}
	return false
}
