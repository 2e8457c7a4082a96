package identity

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func PractitionerDefinition() resource.Definition {
	return resource.Definition{
		Type:    "Practitioner",
		Table:   "practitioners",
		Profile: fhir.ProfilePractitioner,
		SearchParams: map[string]fhir.SearchParamConfig{
			"identifier": {Type: fhir.SearchParamToken, Column: "identifier_value", SysColumn: "identifier_system"},
			"family":     {Type: fhir.SearchParamString, Column: "family"},
			"given":      {Type: fhir.SearchParamString, Column: "given"},
			"name":       {Type: fhir.SearchParamString, Column: "name"},
			"active":     {Type: fhir.SearchParamBoolean, Column: "active"},
		},
		DefaultSort: "family ASC, given ASC",
		Extract:     extractPractitioner,
	}
}

func extractPractitioner(body []byte) (resource.Columns, error) {
	var is resource.Issues
	p, ok := resource.Decode(body, "Practitioner", r4.UnmarshalPractitioner, &is, "name")
	if !ok {
		return nil, is.Err()
	}

	system, value := resource.Identifier(p.Identifier, fhir.SystemBIG, fhir.SystemUZI, fhir.SystemAGB)
	family, given, name := resource.Name(p.Name)
	cols := resource.Columns{
		"active":            p.Active == nil || *p.Active,
		"identifier_system": resource.Nullable(system),
		"identifier_value":  resource.Nullable(value),
		"big":               resource.Nullable(resource.IdentifierValue(p.Identifier, fhir.SystemBIG)),
		"uzi":               resource.Nullable(resource.IdentifierValue(p.Identifier, fhir.SystemUZI)),
		"family":            resource.Nullable(family),
		"given":             resource.Nullable(given),
		"name":              resource.Nullable(name),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
