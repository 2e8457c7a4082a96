// Package medication maps the medication agreement (MedicationRequest).
package medication

import (
	"encoding/json"

	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/resource"
)

func Definitions() []resource.Definition {
	return []resource.Definition{MedicationRequestDefinition()}
}

func MedicationRequestDefinition() resource.Definition {
	patient := fhir.SearchParamConfig{Type: fhir.SearchParamReference, Column: "patient_id", Target: "Patient"}
	return resource.Definition{
		Type:    "MedicationRequest",
		Table:   "medication_requests",
		Profile: fhir.ProfileMedicationAgreement,
		SearchParams: map[string]fhir.SearchParamConfig{
			"patient":    patient,
			"subject":    patient,
			"status":     {Type: fhir.SearchParamToken, Column: "status"},
			"intent":     {Type: fhir.SearchParamToken, Column: "intent"},
			"code":       {Type: fhir.SearchParamToken, Column: "code", SysColumn: "code_system"},
			"authoredon": {Type: fhir.SearchParamDate, Column: "authored_on"},
			"requester":  {Type: fhir.SearchParamReference, Column: "practitioner_id", Target: "Practitioner"},
			"encounter":  {Type: fhir.SearchParamReference, Column: "encounter_id", Target: "Encounter"},
		},
		DefaultSort: "authored_on DESC NULLS LAST",
		Extract:     extractMedicationRequest,
	}
}

var (
	requestStatuses = []string{"active", "on-hold", "cancelled", "completed", "entered-in-error", "stopped", "draft", "unknown"}
	requestIntents  = []string{"proposal", "plan", "order", "original-order", "reflex-order", "filler-order", "instance-order", "option"}
)

// medicationChoice records which medication[x] element the body carries.
// The typed model holds both as values, so presence is read from the raw JSON.
type medicationChoice struct {
	CodeableConcept json.RawMessage `json:"medicationCodeableConcept"`
	Reference       json.RawMessage `json:"medicationReference"`
}

func extractMedicationRequest(body []byte) (resource.Columns, error) {
	var is resource.Issues
	m, ok := resource.Decode(body, "MedicationRequest", r4.UnmarshalMedicationRequest, &is, "status", "intent", "subject")
	if !ok {
		return nil, is.Err()
	}
	var choice medicationChoice
	if err := json.Unmarshal(body, &choice); err != nil {
		is.Add("MedicationRequest", "resource body is not a JSON object: %v", err)
		return nil, is.Err()
	}

	if m.Status != "" && !oneOf(m.Status, requestStatuses) {
		is.Add("MedicationRequest.status", "unknown status %q", m.Status)
	}
	if m.Intent != "" && !oneOf(m.Intent, requestIntents) {
		is.Add("MedicationRequest.intent", "unknown intent %q", m.Intent)
	}

	var codeSystem, code string
	switch {
	case choice.CodeableConcept != nil && choice.Reference != nil:
		is.Add("MedicationRequest.medication[x]", "only one of medicationCodeableConcept and medicationReference may be present")
	case choice.CodeableConcept != nil:
		if !resource.HasCoding(&m.MedicationCodeableConcept) {
			is.Add("MedicationRequest.medicationCodeableConcept", "medication needs a coding or text")
		}
		codeSystem, code = resource.FirstCoding(&m.MedicationCodeableConcept)
	case choice.Reference != nil:
		resource.RequiredReference(&m.MedicationReference, "MedicationRequest.medicationReference", &is, "Medication")
	default:
		is.Required("MedicationRequest.medication[x]")
	}

	cols := resource.Columns{
		"patient_id":      resource.RequiredReference(&m.Subject, "MedicationRequest.subject", &is, "Patient"),
		"practitioner_id": resource.Nullable(resource.ReferenceTo(m.Requester, "Practitioner", "MedicationRequest.requester", &is)),
		"encounter_id":    resource.Nullable(resource.ReferenceID(m.Encounter, "MedicationRequest.encounter", &is, "Encounter")),
		"status":          m.Status,
		"intent":          m.Intent,
		"code_system":     resource.Nullable(codeSystem),
		"code":            resource.Nullable(code),
		"authored_on":     resource.DateColumn(m.AuthoredOn, "MedicationRequest.authoredOn", &is),
	}
	if err := is.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func oneOf(v string, codes []string) bool {
	for _, c := range codes {
		if v == c {
			return true
		}
	}
	return false
}
