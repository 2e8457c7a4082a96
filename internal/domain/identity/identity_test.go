package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

const (
	gpID  = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	orgID = "0b3e6a52-58c4-4d2e-9e40-2a1d1e7a8c11"
)

func expressions(t *testing.T, err error) []string {
	t.Helper()
	var fe *fhir.Error
	require.True(t, errors.As(err, &fe), "expected *fhir.Error, got %v", err)
	var out []string
	for _, issue := range fe.Outcome.Issue {
		out = append(out, issue.Expression...)
	}
	return out
}

func TestExtractPatient(t *testing.T) {
	body := `{
		"resourceType": "Patient",
		"identifier": [{"system": "http://fhir.nl/fhir/NamingSystem/bsn", "value": "999911120"}],
		"name": [{"use": "official", "family": "Jansen", "given": ["Jan"]}],
		"gender": "male",
		"birthDate": "1980-04-12",
		"generalPractitioner": [{"reference": "Practitioner/` + gpID + `"}],
		"managingOrganization": {"reference": "Organization/` + orgID + `"}
	}`
	cols, err := extractPatient([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "999911120", cols["bsn"])
	assert.Equal(t, fhir.SystemBSN, cols["identifier_system"])
	assert.Equal(t, "Jansen", cols["family"])
	assert.Equal(t, "Jan", cols["given"])
	assert.Equal(t, "Jan Jansen", cols["name"])
	assert.Equal(t, "male", cols["gender"])
	assert.Equal(t, time.Date(1980, 4, 12, 0, 0, 0, 0, time.UTC), cols["birth_date"])
	assert.Equal(t, gpID, cols["general_practitioner_id"])
	assert.Equal(t, orgID, cols["organization_id"])
	assert.Equal(t, true, cols["active"])
}

func TestExtractPatient_Invalid(t *testing.T) {
	_, err := extractPatient([]byte(`{"resourceType":"Patient","active":true}`))
	assert.Equal(t, []string{"Patient.name"}, expressions(t, err))

	_, err = extractPatient([]byte(`{"resourceType":"Patient","identifier":[{"system":"http://fhir.nl/fhir/NamingSystem/bsn","value":"123456789"}]}`))
	assert.Equal(t, []string{"Patient.identifier"}, expressions(t, err))

	_, err = extractPatient([]byte(`{"resourceType":"Patient","name":[{"family":"X"}],"generalPractitioner":[{"reference":"https://elsewhere/Practitioner/1"}]}`))
	assert.Equal(t, []string{"Patient.generalPractitioner[0]"}, expressions(t, err))
}

func TestExtractPatient_InactiveWithoutGP(t *testing.T) {
	cols, err := extractPatient([]byte(`{"resourceType":"Patient","active":false,"name":[{"text":"J. Jansen"}],
		"generalPractitioner":[{"reference":"Organization/` + orgID + `"}]}`))
	require.NoError(t, err)
	assert.Equal(t, false, cols["active"])
	assert.Equal(t, "J. Jansen", cols["name"])
	assert.Nil(t, cols["general_practitioner_id"])
	assert.Nil(t, cols["bsn"])
}

func TestExtractPractitioner(t *testing.T) {
	body := `{
		"resourceType": "Practitioner",
		"identifier": [
			{"system": "http://fhir.nl/fhir/NamingSystem/uzi-nr-pers", "value": "12345678"},
			{"system": "http://fhir.nl/fhir/NamingSystem/big", "value": "19012345678"}
		],
		"name": [{"family": "de Vries", "given": ["Anna"]}]
	}`
	cols, err := extractPractitioner([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, fhir.SystemBIG, cols["identifier_system"])
	assert.Equal(t, "19012345678", cols["big"])
	assert.Equal(t, "12345678", cols["uzi"])
	assert.Equal(t, "de Vries", cols["family"])

	_, err = extractPractitioner([]byte(`{"resourceType":"Practitioner"}`))
	assert.Equal(t, []string{"Practitioner.name"}, expressions(t, err))
}
