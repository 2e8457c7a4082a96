package medication

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

const patientID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

func TestExtractMedicationRequest(t *testing.T) {
	body := `{
		"resourceType": "MedicationRequest",
		"status": "active",
		"intent": "order",
		"medicationCodeableConcept": {"coding": [{"system": "urn:oid:2.16.840.1.113883.2.4.4.10", "code": "67903"}]},
		"subject": {"reference": "Patient/` + patientID + `"},
		"authoredOn": "2024-01-15"
	}`
	cols, err := extractMedicationRequest([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "active", cols["status"])
	assert.Equal(t, "order", cols["intent"])
	assert.Equal(t, "67903", cols["code"])
	assert.Equal(t, patientID, cols["patient_id"])
}

func TestExtractMedicationRequest_MissingMedication(t *testing.T) {
	body := `{"resourceType":"MedicationRequest","status":"active","intent":"order",
		"subject":{"reference":"Patient/` + patientID + `"}}`
	_, err := extractMedicationRequest([]byte(body))

	var fe *fhir.Error
	require.True(t, errors.As(err, &fe))
	require.Len(t, fe.Outcome.Issue, 1)
	assert.Equal(t, fhir.IssueTypeRequired, fe.Outcome.Issue[0].Code)
	assert.Equal(t, []string{"MedicationRequest.medication[x]"}, fe.Outcome.Issue[0].Expression)
}

func TestExtractMedicationRequest_MedicationReference(t *testing.T) {
	body := `{"resourceType":"MedicationRequest","status":"active","intent":"order",
		"medicationReference":{"reference":"Medication/9b2f6e0a-1c4d-4e5f-8a7b-0c1d2e3f4a5b"},
		"subject":{"reference":"Patient/` + patientID + `"}}`
	cols, err := extractMedicationRequest([]byte(body))
	require.NoError(t, err)
	assert.Nil(t, cols["code"])
	assert.Nil(t, cols["code_system"])
	assert.Equal(t, patientID, cols["patient_id"])
}

func TestExtractMedicationRequest_InvalidMedication(t *testing.T) {
	tests := []struct {
		name       string
		medication string
		expression string
	}{
		{"reference to other type", `"medicationReference":{"reference":"Patient/` + patientID + `"}`, "MedicationRequest.medicationReference"},
		{"empty concept", `"medicationCodeableConcept":{"coding":[]}`, "MedicationRequest.medicationCodeableConcept"},
		{"both choices", `"medicationCodeableConcept":{"text":"paracetamol"},"medicationReference":{"reference":"Medication/9b2f6e0a-1c4d-4e5f-8a7b-0c1d2e3f4a5b"}`, "MedicationRequest.medication[x]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"resourceType":"MedicationRequest","status":"active","intent":"order",` + tt.medication + `,
				"subject":{"reference":"Patient/` + patientID + `"}}`
			_, err := extractMedicationRequest([]byte(body))

			var fe *fhir.Error
			require.True(t, errors.As(err, &fe))
			require.Len(t, fe.Outcome.Issue, 1)
			assert.Equal(t, []string{tt.expression}, fe.Outcome.Issue[0].Expression)
		})
	}
}

func TestExtractMedicationRequest_UnknownCodes(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		intent     string
		expression string
	}{
		{"status", "bogus", "order", "MedicationRequest.status"},
		{"intent", "active", "prescription", "MedicationRequest.intent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"resourceType":"MedicationRequest","status":"` + tt.status + `","intent":"` + tt.intent + `",
				"medicationCodeableConcept":{"text":"paracetamol"},"subject":{"reference":"Patient/` + patientID + `"}}`
			_, err := extractMedicationRequest([]byte(body))

			var fe *fhir.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, 400, fe.Status)
			require.Len(t, fe.Outcome.Issue, 1)
			assert.Equal(t, fhir.IssueTypeInvalid, fe.Outcome.Issue[0].Code)
			assert.Equal(t, []string{tt.expression}, fe.Outcome.Issue[0].Expression)
		})
	}
}
