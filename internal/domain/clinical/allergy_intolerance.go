package clinical

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func AllergyIntoleranceDefinition() resource.Definition {
	return resource.Definition{
		Type:    "AllergyIntolerance",
		Table:   "allergy_intolerances",
		Profile: fhir.ProfileAllergyIntolerance,
		SearchParams: map[string]fhir.SearchParamConfig{
			"patient":         {Type: fhir.SearchParamReference, Column: "patient_id", Target: "Patient"},
			"code":            {Type: fhir.SearchParamToken, Column: "code", SysColumn: "code_system"},
			"clinical-status": {Type: fhir.SearchParamToken, Column: "clinical_status"},
			"criticality":     {Type: fhir.SearchParamToken, Column: "criticality"},
			"category":        {Type: fhir.SearchParamToken, Column: "category"},
			"date":            {Type: fhir.SearchParamDate, Column: "recorded_date"},
			"recorder":        {Type: fhir.SearchParamReference, Column: "practitioner_id", Target: "Practitioner"},
		},
		DefaultSort: "recorded_date DESC NULLS LAST",
		Extract:     extractAllergyIntolerance,
	}
}

func extractAllergyIntolerance(body []byte) (resource.Columns, error) {
	var is resource.Issues
	a, ok := resource.Decode(body, "AllergyIntolerance", r4.UnmarshalAllergyIntolerance, &is, "code", "patient")
	if !ok {
		return nil, is.Err()
	}
	if a.Code != nil && !resource.HasCoding(a.Code) {
		is.Add("AllergyIntolerance.code", "AllergyIntolerance.code needs a coding or text")
	}
	codeSystem, code := resource.FirstCoding(a.Code)
	_, clinical := resource.FirstCoding(a.ClinicalStatus)

	var category interface{}
	if len(a.Category) > 0 {
		category = a.Category[0].Code()
	}

	cols := resource.Columns{
		"patient_id":      resource.RequiredReference(&a.Patient, "AllergyIntolerance.patient", &is, "Patient"),
		"practitioner_id": resource.Nullable(resource.ReferenceTo(a.Recorder, "Practitioner", "AllergyIntolerance.recorder", &is)),
		"code_system":     resource.Nullable(codeSystem),
		"code":            resource.Nullable(code),
		"clinical_status": resource.Nullable(clinical),
		"criticality":     resource.Code(a.Criticality),
		"category":        category,
		"recorded_date":   resource.DateColumn(a.RecordedDate, "AllergyIntolerance.recordedDate", &is),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
