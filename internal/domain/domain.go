// Package domain lists the resource types served by the FHIR API.
package domain

import (
	"github.com/nlcore/zib-fhir/internal/domain/admin"
	"github.com/nlcore/zib-fhir/internal/domain/clinical"
	"github.com/nlcore/zib-fhir/internal/domain/encounter"
	"github.com/nlcore/zib-fhir/internal/domain/identity"
	"github.com/nlcore/zib-fhir/internal/domain/medication"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

// Definitions returns every served resource definition.
func Definitions() []resource.Definition {
	var defs []resource.Definition
	defs = append(defs, identity.Definitions()...)
	defs = append(defs, admin.Definitions()...)
	defs = append(defs, clinical.Definitions()...)
	defs = append(defs, medication.Definitions()...)
	defs = append(defs, encounter.Definitions()...)
	return defs
}

// NewRegistry builds the registry of all served resource types.
func NewRegistry() (*resource.Registry, error) {
	return resource.NewRegistry(Definitions()...)
}
