package resource

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

func testPatientDefinition() Definition {
	return Definition{
		Type:    "Patient",
		Table:   "patients",
		Profile: fhir.ProfilePatient,
		SearchParams: map[string]fhir.SearchParamConfig{
			"family":     {Type: fhir.SearchParamString, Column: "family"},
			"identifier": {Type: fhir.SearchParamToken, Column: "identifier_value", SysColumn: "identifier_system"},
		},
		Extract: func(body []byte) (Columns, error) {
			var is Issues
			p, ok := Decode(body, "Patient", r4.UnmarshalPatient, &is, "name")
			if !ok {
				return nil, is.Err()
			}
			family, _, _ := Name(p.Name)
			system, value := Identifier(p.Identifier, fhir.SystemBSN)
			if err := is.Err(); err != nil {
				return nil, err
			}
			return Columns{
				"family":            Nullable(family),
				"identifier_system": Nullable(system),
				"identifier_value":  Nullable(value),
			}, nil
		},
	}
}

func testRegistry() *Registry {
	reg, err := NewRegistry(testPatientDefinition())
	if err != nil {
		panic(err)
	}
	return reg
}
