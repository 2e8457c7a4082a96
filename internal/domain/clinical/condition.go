package clinical

import (
	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

// ConditionDefinition maps the nl-core Problem.
func ConditionDefinition() resource.Definition {
	patient := fhir.SearchParamConfig{Type: fhir.SearchParamReference, Column: "patient_id", Target: "Patient"}
	return resource.Definition{
		Type:    "Condition",
		Table:   "conditions",
		Profile: fhir.ProfileProblem,
		SearchParams: map[string]fhir.SearchParamConfig{
			"patient":             patient,
			"subject":             patient,
			"code":                {Type: fhir.SearchParamToken, Column: "code", SysColumn: "code_system"},
			"category":            {Type: fhir.SearchParamToken, Column: "category", SysColumn: "category_system"},
			"clinical-status":     {Type: fhir.SearchParamToken, Column: "clinical_status"},
			"verification-status": {Type: fhir.SearchParamToken, Column: "verification_status"},
			"onset-date":          {Type: fhir.SearchParamDate, Column: "onset_date"},
			"recorded-date":       {Type: fhir.SearchParamDate, Column: "recorded_date"},
			"encounter":           {Type: fhir.SearchParamReference, Column: "encounter_id", Target: "Encounter"},
			"asserter":            {Type: fhir.SearchParamReference, Column: "practitioner_id", Target: "Practitioner"},
		},
		DefaultSort: "recorded_date DESC NULLS LAST",
		Extract:     extractCondition,
	}
}

func extractCondition(body []byte) (resource.Columns, error) {
	var is resource.Issues
	c, ok := resource.Decode(body, "Condition", r4.UnmarshalCondition, &is, "code", "subject")
	if !ok {
		return nil, is.Err()
	}
	if c.Code != nil && !resource.HasCoding(c.Code) {
		is.Add("Condition.code", "Condition.code needs a coding or text")
	}
	codeSystem, code := resource.FirstCoding(c.Code)
	categorySystem, category := resource.FirstCodingOf(c.Category)
	_, clinical := resource.FirstCoding(c.ClinicalStatus)
	_, verification := resource.FirstCoding(c.VerificationStatus)

	// the asserting practitioner, or the recorder when the asserter is someone else
	practitioner := resource.ReferenceTo(c.Asserter, "Practitioner", "Condition.asserter", &is)
	if recorder := resource.ReferenceTo(c.Recorder, "Practitioner", "Condition.recorder", &is); practitioner == "" {
		practitioner = recorder
	}

	cols := resource.Columns{
		"patient_id":          resource.RequiredReference(&c.Subject, "Condition.subject", &is, "Patient"),
		"practitioner_id":     resource.Nullable(practitioner),
		"encounter_id":        resource.Nullable(resource.ReferenceID(c.Encounter, "Condition.encounter", &is, "Encounter")),
		"code_system":         resource.Nullable(codeSystem),
		"code":                resource.Nullable(code),
		"category_system":     resource.Nullable(categorySystem),
		"category":            resource.Nullable(category),
		"clinical_status":     resource.Nullable(clinical),
		"verification_status": resource.Nullable(verification),
		"onset_date":          resource.DateColumn(c.OnsetDateTime, "Condition.onsetDateTime", &is),
		"recorded_date":       resource.DateColumn(c.RecordedDate, "Condition.recordedDate", &is),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
