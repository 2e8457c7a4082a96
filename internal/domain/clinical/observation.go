// Package clinical maps nl-core Observations, Problems and
// AllergyIntolerances onto their tables.
package clinical

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func Definitions() []resource.Definition {
	return []resource.Definition{
		ObservationDefinition(),
		ConditionDefinition(),
		AllergyIntoleranceDefinition(),
	}
}

// vitalSignProfiles selects the vital sign profile from the LOINC code.
var vitalSignProfiles = map[string]string{
	fhir.LOINCBodyWeight:    fhir.ProfileBodyWeight,
	fhir.LOINCBodyHeight:    fhir.ProfileBodyHeight,
	fhir.LOINCBloodPressure: fhir.ProfileBloodPressure,
}

func ObservationDefinition() resource.Definition {
	patient := fhir.SearchParamConfig{Type: fhir.SearchParamReference, Column: "patient_id", Target: "Patient"}
	return resource.Definition{
		Type:    "Observation",
		Table:   "observations",
		Profile: fhir.ProfileLaboratoryTestResult,
		Profiles: []string{
			fhir.ProfileLaboratoryTestResult,
			fhir.ProfileBodyWeight,
			fhir.ProfileBodyHeight,
			fhir.ProfileBloodPressure,
		},
		ProfileFor: observationProfile,
		SearchParams: map[string]fhir.SearchParamConfig{
			"patient":        patient,
			"subject":        patient,
			"code":           {Type: fhir.SearchParamToken, Column: "code", SysColumn: "code_system"},
			"category":       {Type: fhir.SearchParamToken, Column: "category", SysColumn: "category_system"},
			"date":           {Type: fhir.SearchParamDate, Column: "effective_date"},
			"status":         {Type: fhir.SearchParamToken, Column: "status"},
			"encounter":      {Type: fhir.SearchParamReference, Column: "encounter_id", Target: "Encounter"},
			"performer":      {Type: fhir.SearchParamReference, Column: "practitioner_id", Target: "Practitioner"},
			"value-quantity": {Type: fhir.SearchParamQuantity, Column: "value_quantity"},
		},
		DefaultSort: "effective_date DESC NULLS LAST",
		Extract:     extractObservation,
	}
}

func observationProfile(obj map[string]interface{}) string {
	for _, c := range resource.Codings(obj, "code") {
		if c[0] == fhir.SystemLOINC {
			if p, ok := vitalSignProfiles[c[1]]; ok {
				return p
			}
		}
	}
	return ""
}

func extractObservation(body []byte) (resource.Columns, error) {
	var is resource.Issues
	o, ok := resource.Decode(body, "Observation", r4.UnmarshalObservation, &is, "status", "code", "subject")
	if !ok {
		return nil, is.Err()
	}
	if !resource.HasCoding(&o.Code) {
		is.Add("Observation.code", "Observation.code needs a coding or text")
	}
	codeSystem, code := resource.FirstCoding(&o.Code)
	categorySystem, category := resource.FirstCodingOf(o.Category)

	var performer string
	for i := range o.Performer {
		id := resource.ReferenceTo(&o.Performer[i], "Practitioner", resource.Elem("Observation.performer", i), &is)
		if performer == "" {
			performer = id
		}
	}

	effective := o.EffectiveDateTime
	if effective == nil && o.EffectiveInstant != nil {
		effective = o.EffectiveInstant
	}
	if effective == nil && o.EffectivePeriod != nil {
		effective = o.EffectivePeriod.Start
	}

	var value interface{}
	if o.ValueQuantity != nil && o.ValueQuantity.Value != nil {
		f, err := o.ValueQuantity.Value.Float64()
		if err != nil {
			is.Add("Observation.valueQuantity.value", "invalid decimal %q", o.ValueQuantity.Value.String())
		} else {
			value = f
		}
	}

	cols := resource.Columns{
		"patient_id":      resource.RequiredReference(o.Subject, "Observation.subject", &is, "Patient"),
		"practitioner_id": resource.Nullable(performer),
		"encounter_id":    resource.Nullable(resource.ReferenceID(o.Encounter, "Observation.encounter", &is, "Encounter")),
		"status":          o.Status.Code(),
		"code_system":     resource.Nullable(codeSystem),
		"code":            resource.Nullable(code),
		"category_system": resource.Nullable(categorySystem),
		"category":        resource.Nullable(category),
		"effective_date":  resource.DateColumn(effective, "Observation.effective[x]", &is),
		"value_quantity":  value,
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
