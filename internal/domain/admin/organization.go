// Package admin maps the nl-core HealthcareProvider Organization.
package admin

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func Definitions() []resource.Definition {
	return []resource.Definition{OrganizationDefinition()}
}

func OrganizationDefinition() resource.Definition {
	return resource.Definition{
		Type:    "Organization",
		Table:   "organizations",
		Profile: fhir.ProfileOrganization,
		SearchParams: map[string]fhir.SearchParamConfig{
			"identifier": {Type: fhir.SearchParamToken, Column: "identifier_value", SysColumn: "identifier_system"},
			"name":       {Type: fhir.SearchParamString, Column: "name"},
			"type":       {Type: fhir.SearchParamToken, Column: "type_code", SysColumn: "type_system"},
			"active":     {Type: fhir.SearchParamBoolean, Column: "active"},
			"partof":     {Type: fhir.SearchParamReference, Column: "partof_id", Target: "Organization"},
		},
		DefaultSort: "name ASC",
		Extract:     extractOrganization,
	}
}

func extractOrganization(body []byte) (resource.Columns, error) {
	var is resource.Issues
	o, ok := resource.Decode(body, "Organization", r4.UnmarshalOrganization, &is)
	if !ok {
		return nil, is.Err()
	}
	if (o.Name == nil || *o.Name == "") && len(o.Identifier) == 0 {
		is.Required("Organization.name")
	}

	system, value := resource.Identifier(o.Identifier, fhir.SystemURA, fhir.SystemAGB)
	typeSystem, typeCode := resource.FirstCodingOf(o.Type)
	var name string
	if o.Name != nil {
		name = *o.Name
	}
	cols := resource.Columns{
		"active":            o.Active == nil || *o.Active,
		"identifier_system": resource.Nullable(system),
		"identifier_value":  resource.Nullable(value),
		"name":              resource.Nullable(name),
		"type_system":       resource.Nullable(typeSystem),
		"type_code":         resource.Nullable(typeCode),
		"partof_id":         resource.Nullable(resource.ReferenceID(o.PartOf, "Organization.partOf", &is, "Organization")),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
