package resource

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestPrepareBody_Create(t *testing.T) {
	def := testPatientDefinition()
	body := `{"resourceType":"Patient","id":"client-id","meta":{"versionId":"7","lastUpdated":"2020-01-01T00:00:00Z"},"name":[{"family":"Jansen"}]}`

	out, err := prepareBody(&def, []byte(body), "")
	require.NoError(t, err)

	m := decode(t, out)
	assert.NotContains(t, m, "id")
	meta := m["meta"].(map[string]interface{})
	assert.NotContains(t, meta, "versionId")
	assert.NotContains(t, meta, "lastUpdated")
	assert.Equal(t, []interface{}{fhir.ProfilePatient}, meta["profile"])
}

func TestPrepareBody_KeepsClientProfile(t *testing.T) {
	def := testPatientDefinition()
	body := `{"resourceType":"Patient","meta":{"profile":["http://example.org/p"]}}`

	out, err := prepareBody(&def, []byte(body), "")
	require.NoError(t, err)
	meta := decode(t, out)["meta"].(map[string]interface{})
	assert.Equal(t, []interface{}{"http://example.org/p"}, meta["profile"])
}

func TestPrepareBody_KeepsDecimalPrecision(t *testing.T) {
	def := testPatientDefinition()
	out, err := prepareBody(&def, []byte(`{"resourceType":"Patient","extension":[{"valueDecimal":1.50}]}`), "")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"valueDecimal":1.50`)
}

func TestPrepareBody_Errors(t *testing.T) {
	def := testPatientDefinition()
	id := "0b3e6a52-58c4-4d2e-9e40-2a1d1e7a8c11"

	tests := []struct {
		name string
		body string
		id   string
		expr string
	}{
		{"not an object", `[1,2]`, "", ""},
		{"wrong type", `{"resourceType":"Observation"}`, "", "resourceType"},
		{"missing id on update", `{"resourceType":"Patient"}`, id, "Patient.id"},
		{"id mismatch", `{"resourceType":"Patient","id":"other"}`, id, "Patient.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prepareBody(&def, []byte(tt.body), tt.id)
			var fe *fhir.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, http.StatusBadRequest, fe.Status)
			if tt.expr != "" {
				assert.Equal(t, []string{tt.expr}, fe.Outcome.Issue[0].Expression)
			}
		})
	}
}

func TestStamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 123000000, time.FixedZone("CET", 3600))
	out, err := Stamp([]byte(`{"resourceType":"Patient","meta":{"profile":["p"]}}`), "abc", 3, ts)
	require.NoError(t, err)

	m := decode(t, out)
	assert.Equal(t, "abc", m["id"])
	meta := m["meta"].(map[string]interface{})
	assert.Equal(t, "3", meta["versionId"])
	assert.Equal(t, "2024-03-01T09:30:00.123Z", meta["lastUpdated"])
	assert.Equal(t, []interface{}{"p"}, meta["profile"])
}
