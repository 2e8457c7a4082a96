package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	var types []string
	for _, d := range reg.Definitions() {
		types = append(types, d.Type)
		assert.NotEmpty(t, d.Profile, d.Type)
		assert.Contains(t, d.SearchParams, "_id", d.Type)
	}
	assert.Equal(t, []string{
		"AllergyIntolerance", "Condition", "Encounter", "MedicationRequest",
		"Observation", "Organization", "Patient", "Practitioner",
	}, types)
}
