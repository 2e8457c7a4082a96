package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

func newTestCapabilityBuilder() *fhir.CapabilityBuilder {
	b := fhir.NewCapabilityBuilder(fhir.CapabilityConfig{ServerVersion: "1.0.0", BaseURL: "http://localhost:8000"})
	b.AddResourceCapability(fhir.ResourceCapabilityDef{
		Type:         "Patient",
		Profile:      fhir.ProfilePatient,
		Interactions: fhir.DefaultInteractions(),
		SearchParams: []fhir.SearchParam{
			{Name: "family", Type: "string"},
			{Name: "birthdate", Type: "date"},
		},
	})
	b.AddResourceCapability(fhir.ResourceCapabilityDef{
		Type:         "Observation",
		Interactions: fhir.DefaultInteractions(),
		SearchParams: []fhir.SearchParam{
			{Name: "patient", Type: "reference"},
			{Name: "code", Type: "token"},
		},
	})
	return b
}

// roundTrip renders the document the way the handler does so assertions
// see plain JSON types.
func roundTrip(t *testing.T, spec map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestGenerateSpec_Structure(t *testing.T) {
	spec := roundTrip(t, NewGenerator(newTestCapabilityBuilder(), "1.0.0", "http://localhost:8000").GenerateSpec())

	assert.Equal(t, "3.0.3", spec["openapi"])
	info := spec["info"].(map[string]interface{})
	assert.Equal(t, "1.0.0", info["version"])
	assert.Equal(t, "http://localhost:8000", spec["servers"].([]interface{})[0].(map[string]interface{})["url"])

	paths := spec["paths"].(map[string]interface{})
	for _, p := range []string{
		"/api/fhir/R4/Patient",
		"/api/fhir/R4/Patient/_search",
		"/api/fhir/R4/Patient/{id}",
		"/api/fhir/R4/Observation",
		"/api/fhir/R4/Observation/{id}",
	} {
		assert.Contains(t, paths, p)
	}
	assert.Len(t, paths, 6)

	item := paths["/api/fhir/R4/Patient/{id}"].(map[string]interface{})
	for _, method := range []string{"get", "put", "delete"} {
		assert.Contains(t, item, method)
	}
	coll := paths["/api/fhir/R4/Patient"].(map[string]interface{})
	assert.Contains(t, coll, "get")
	assert.Contains(t, coll, "post")
}

func TestGenerateSpec_SearchParameters(t *testing.T) {
	spec := roundTrip(t, NewGenerator(newTestCapabilityBuilder(), "1.0.0", "").GenerateSpec())

	get := spec["paths"].(map[string]interface{})["/api/fhir/R4/Patient"].(map[string]interface{})["get"].(map[string]interface{})
	var names []string
	for _, p := range get["parameters"].([]interface{}) {
		m := p.(map[string]interface{})
		if r, ok := m["$ref"].(string); ok {
			names = append(names, r)
			continue
		}
		names = append(names, m["name"].(string))
	}
	assert.Equal(t, []string{
		"#/components/parameters/TenantID",
		"family", "birthdate",
		"_count", "_offset", "_sort",
	}, names)
}

func TestGenerateSpec_Components(t *testing.T) {
	spec := roundTrip(t, NewGenerator(newTestCapabilityBuilder(), "1.0.0", "").GenerateSpec())
	components := spec["components"].(map[string]interface{})

	schemas := components["schemas"].(map[string]interface{})
	for _, name := range []string{"Bundle", "OperationOutcome", "Patient", "Observation", "Reference", "Meta"} {
		assert.Contains(t, schemas, name)
	}
	obs := schemas["Observation"].(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"resourceType", "status", "code", "subject"}, obs["required"])

	tenant := components["parameters"].(map[string]interface{})["TenantID"].(map[string]interface{})
	assert.Equal(t, "X-Tenant-ID", tenant["name"])
	assert.Equal(t, "header", tenant["in"])
	assert.Equal(t, true, tenant["required"])

	schemes := components["securitySchemes"].(map[string]interface{})
	assert.Equal(t, "X-API-Key", schemes["apiKey"].(map[string]interface{})["name"])
	assert.Equal(t, "bearer", schemes["bearer"].(map[string]interface{})["scheme"])
	assert.Equal(t, "cookie", schemes["gatewayCookie"].(map[string]interface{})["in"])

	tags := spec["tags"].([]interface{})
	require.Len(t, tags, 2)
	assert.Equal(t, "Observation", tags[0].(map[string]interface{})["name"])
	assert.Contains(t, tags[1].(map[string]interface{})["description"], fhir.ProfilePatient)
}

func TestBuildResourceSchema_Unknown(t *testing.T) {
	s := buildResourceSchema("Basic")
	props := s["properties"].(schema)
	assert.Len(t, props, 3)
	assert.Equal(t, []string{"resourceType"}, s["required"])
}

func TestRegisterRoutes(t *testing.T) {
	e := echo.New()
	NewGenerator(newTestCapabilityBuilder(), "1.0.0", "").RegisterRoutes(e.Group("/api"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `url: "/api/openapi"`))
}
