// Package encounter maps the nl-core Encounter. Encounter participants
// establish the care relationships used by row-level security.
package encounter

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func Definitions() []resource.Definition {
	return []resource.Definition{EncounterDefinition()}
}

func EncounterDefinition() resource.Definition {
	patient := fhir.SearchParamConfig{Type: fhir.SearchParamReference, Column: "patient_id", Target: "Patient"}
	participant := fhir.SearchParamConfig{Type: fhir.SearchParamReference, Column: "participant_ids", Target: "Practitioner", Array: true}
	return resource.Definition{
		Type:    "Encounter",
		Table:   "encounters",
		Profile: fhir.ProfileEncounter,
		SearchParams: map[string]fhir.SearchParamConfig{
			"patient":          patient,
			"subject":          patient,
			"status":           {Type: fhir.SearchParamToken, Column: "status"},
			"class":            {Type: fhir.SearchParamToken, Column: "class_code", SysColumn: "class_system"},
			"date":             {Type: fhir.SearchParamDate, Column: "period_start"},
			"end-date":         {Type: fhir.SearchParamDate, Column: "period_end"},
			"participant":      participant,
			"practitioner":     participant,
			"service-provider": {Type: fhir.SearchParamReference, Column: "service_provider_id", Target: "Organization"},
		},
		DefaultSort: "period_start DESC NULLS LAST",
		Extract:     extractEncounter,
	}
}

func extractEncounter(body []byte) (resource.Columns, error) {
	var is resource.Issues
	e, ok := resource.Decode(body, "Encounter", r4.UnmarshalEncounter, &is, "status", "class", "subject")
	if !ok {
		return nil, is.Err()
	}
	if e.Class.Code == nil || *e.Class.Code == "" {
		is.Required("Encounter.class.code")
	}
	var classSystem, classCode string
	if e.Class.System != nil {
		classSystem = *e.Class.System
	}
	if e.Class.Code != nil {
		classCode = *e.Class.Code
	}

	participants := []string{}
	seen := map[string]bool{}
	for i, p := range e.Participant {
		id := resource.ReferenceTo(p.Individual, "Practitioner", resource.Elem("Encounter.participant", i)+".individual", &is)
		if id != "" && !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	var start, end *string
	if e.Period != nil {
		start, end = e.Period.Start, e.Period.End
	}

	cols := resource.Columns{
		"patient_id":          resource.RequiredReference(e.Subject, "Encounter.subject", &is, "Patient"),
		"status":              e.Status.Code(),
		"class_system":        resource.Nullable(classSystem),
		"class_code":          resource.Nullable(classCode),
		"period_start":        resource.DateColumn(start, "Encounter.period.start", &is),
		"period_end":          resource.DateColumn(end, "Encounter.period.end", &is),
		"participant_ids":     participants,
		"service_provider_id": resource.Nullable(resource.ReferenceID(e.ServiceProvider, "Encounter.serviceProvider", &is, "Organization")),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
