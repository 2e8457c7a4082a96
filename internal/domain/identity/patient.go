// Package identity maps the nl-core Patient and HealthProfessional resources
// onto their tables.
package identity

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

// Definitions returns the resource definitions of this package.
func Definitions() []resource.Definition {
	return []resource.Definition{PatientDefinition(), PractitionerDefinition()}
}

func PatientDefinition() resource.Definition {
	return resource.Definition{
		Type:    "Patient",
		Table:   "patients",
		Profile: fhir.ProfilePatient,
		SearchParams: map[string]fhir.SearchParamConfig{
			"identifier":           {Type: fhir.SearchParamToken, Column: "identifier_value", SysColumn: "identifier_system"},
			"family":               {Type: fhir.SearchParamString, Column: "family"},
			"given":                {Type: fhir.SearchParamString, Column: "given"},
			"name":                 {Type: fhir.SearchParamString, Column: "name"},
			"birthdate":            {Type: fhir.SearchParamDate, Column: "birth_date"},
			"gender":               {Type: fhir.SearchParamToken, Column: "gender"},
			"active":               {Type: fhir.SearchParamBoolean, Column: "active"},
			"general-practitioner": {Type: fhir.SearchParamReference, Column: "general_practitioner_id", Target: "Practitioner"},
			"organization":         {Type: fhir.SearchParamReference, Column: "organization_id", Target: "Organization"},
		},
		DefaultSort: "family ASC, given ASC",
		Extract:     extractPatient,
	}
}

func extractPatient(body []byte) (resource.Columns, error) {
	var is resource.Issues
	p, ok := resource.Decode(body, "Patient", r4.UnmarshalPatient, &is)
	if !ok {
		return nil, is.Err()
	}
	if len(p.Name) == 0 && len(p.Identifier) == 0 {
		is.Required("Patient.name")
	}

	bsn := resource.IdentifierValue(p.Identifier, fhir.SystemBSN)
	if bsn != "" && !fhir.ValidBSN(bsn) {
		is.Add("Patient.identifier", "BSN %q does not pass the eleven test", bsn)
	}
	system, value := resource.Identifier(p.Identifier, fhir.SystemBSN)
	family, given, name := resource.Name(p.Name)

	var gp string
	for i := range p.GeneralPractitioner {
		// Organization and PractitionerRole are valid targets but only practitioners are indexed
		id := resource.ReferenceTo(&p.GeneralPractitioner[i], "Practitioner", resource.Elem("Patient.generalPractitioner", i), &is)
		if gp == "" {
			gp = id
		}
	}
	org := resource.ReferenceID(p.ManagingOrganization, "Patient.managingOrganization", &is, "Organization")

	cols := resource.Columns{
		"active":                  p.Active == nil || *p.Active,
		"bsn":                     resource.Nullable(bsn),
		"identifier_system":       resource.Nullable(system),
		"identifier_value":        resource.Nullable(value),
		"family":                  resource.Nullable(family),
		"given":                   resource.Nullable(given),
		"name":                    resource.Nullable(name),
		"birth_date":              resource.DateColumn(p.BirthDate, "Patient.birthDate", &is),
		"gender":                  resource.Code(p.Gender),
		"general_practitioner_id": resource.Nullable(gp),
		"organization_id":         resource.Nullable(org),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
