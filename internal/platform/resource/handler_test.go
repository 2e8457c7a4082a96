package resource

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/telemetry"
)

const testBase = "http://fhir.example.nl"

type testServer struct {
	e      *echo.Echo
	store  *memStore
	runner *directRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newMemStore()
	runner := &directRunner{}
	h := NewHandler(testRegistry(), NewService(store, runner), testBase, telemetry.NewMetrics(prometheus.NewRegistry()))

	e := echo.New()
	e.HTTPErrorHandler = fhir.HTTPErrorHandler(zerolog.Nop())
	g := e.Group("/api/fhir/:version", fhir.RequireR4(), h.ResolveType)
	h.RegisterRoutes(g)
	return &testServer{e: e, store: store, runner: runner}
}

func (s *testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

const janBody = `{"resourceType":"Patient","identifier":[{"system":"http://fhir.nl/fhir/NamingSystem/bsn","value":"999911120"}],"name":[{"family":"Jansen","given":["Jan"]}]}`

func (s *testServer) create(t *testing.T, body string) (string, map[string]interface{}) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/fhir/R4/Patient", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m["id"].(string), m
}

func outcomeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var oo fhir.OperationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &oo), rec.Body.String())
	require.Equal(t, "OperationOutcome", oo.ResourceType)
	require.NotEmpty(t, oo.Issue)
	return oo.Issue[0].Code
}

func TestCreateThenRead(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/fhir/R4/Patient", strings.Replace(janBody, `"Patient",`, `"Patient","id":"ignored",`, 1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	id := created["id"].(string)
	assert.NotEqual(t, "ignored", id)
	assert.True(t, fhir.IsUUID(id))
	assert.Equal(t, testBase+"/api/fhir/R4/Patient/"+id+"/_history/1", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, `W/"1"`, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
	assert.Equal(t, fhir.MIMEFHIRJSON, rec.Header().Get(echo.HeaderContentType))

	meta := created["meta"].(map[string]interface{})
	assert.Equal(t, "1", meta["versionId"])
	assert.Equal(t, []interface{}{fhir.ProfilePatient}, meta["profile"])

	rec = s.do(http.MethodGet, "/api/fhir/R4/Patient/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var read map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &read))
	assert.Equal(t, created, read)
	assert.Equal(t, `W/"1"`, rec.Header().Get("ETag"))
}

func TestRead_IfNoneMatch(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, janBody)

	rec := s.do(http.MethodGet, "/api/fhir/R4/Patient/"+id, "", "If-None-Match", `W/"1"`)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = s.do(http.MethodGet, "/api/fhir/R4/Patient/"+id, "", "If-None-Match", `W/"2"`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdate_IncrementsVersion(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, janBody)
	body := strings.Replace(janBody, `"Patient",`, `"Patient","id":"`+id+`",`, 1)

	rec := s.do(http.MethodPut, "/api/fhir/R4/Patient/"+id, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `W/"2"`, rec.Header().Get("ETag"))

	rec = s.do(http.MethodPut, "/api/fhir/R4/Patient/"+id, body, "If-Match", `W/"2"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `W/"3"`, rec.Header().Get("ETag"))
}

func TestUpdate_IfMatchMismatch(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, janBody)
	body := strings.Replace(janBody, `"Patient",`, `"Patient","id":"`+id+`",`, 1)

	rec := s.do(http.MethodPut, "/api/fhir/R4/Patient/"+id, body, "If-Match", `W/"5"`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, fhir.IssueTypeConflict, outcomeCode(t, rec))

	rec = s.do(http.MethodPut, "/api/fhir/R4/Patient/"+id, body, "If-Match", `W/"abc"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate_Errors(t *testing.T) {
	s := newTestServer(t)
	unknown := "0b3e6a52-58c4-4d2e-9e40-2a1d1e7a8c11"

	rec := s.do(http.MethodPut, "/api/fhir/R4/Patient/"+unknown,
		strings.Replace(janBody, `"Patient",`, `"Patient","id":"`+unknown+`",`, 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id, _ := s.create(t, janBody)
	rec = s.do(http.MethodPut, "/api/fhir/R4/Patient/"+id,
		strings.Replace(janBody, `"Patient",`, `"Patient","id":"`+unknown+`",`, 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, janBody)

	rec := s.do(http.MethodDelete, "/api/fhir/R4/Patient/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodDelete, "/api/fhir/R4/Patient/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "delete is idempotent")

	rec = s.do(http.MethodGet, "/api/fhir/R4/Patient/"+id, "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, fhir.IssueTypeDeleted, outcomeCode(t, rec))

	rec = s.do(http.MethodDelete, "/api/fhir/R4/Patient/0b3e6a52-58c4-4d2e-9e40-2a1d1e7a8c11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreate_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/fhir/R4/Patient", `{"resourceType":"Observation"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/fhir/R4/Patient", `{"resourceType":"Patient"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, fhir.IssueTypeRequired, outcomeCode(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/fhir/R4/Patient", strings.NewReader(janBody))
	req.Header.Set(echo.HeaderContentType, "text/xml")
	res := httptest.NewRecorder()
	s.e.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, res.Code)
	assert.Zero(t, s.runner.calls, "rejected bodies never reach the store")
}

func TestCreate_PreferReturn(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/fhir/R4/Patient", janBody, "Prefer", "return=minimal")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderLocation))

	rec = s.do(http.MethodPost, "/api/fhir/R4/Patient", janBody, "Prefer", "return=OperationOutcome")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, fhir.IssueTypeInformational, outcomeCode(t, rec))
}

func TestSearch_Bundle(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.create(t, janBody)
	}
	s.create(t, strings.Replace(janBody, "Jansen", "de Vries", 1))

	rec := s.do(http.MethodGet, "/api/fhir/R4/Patient?family=Jansen&_count=2&foo=bar", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var bundle fhir.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, "searchset", bundle.Type)
	require.NotNil(t, bundle.Total)
	assert.Equal(t, 3, *bundle.Total)
	require.Len(t, bundle.Entry, 2)
	assert.Equal(t, "match", bundle.Entry[0].Search.Mode)
	assert.True(t, strings.HasPrefix(bundle.Entry[0].FullURL, testBase+"/api/fhir/R4/Patient/"))

	links := map[string]string{}
	for _, l := range bundle.Link {
		links[l.Relation] = l.URL
	}
	self, err := url.Parse(links["self"])
	require.NoError(t, err)
	assert.Equal(t, "Jansen", self.Query().Get("family"))
	assert.Empty(t, self.Query().Get("foo"), "ignored parameters are not echoed")
	assert.Contains(t, links["next"], "_offset=2")
	assert.NotContains(t, links, "previous")
}

func TestSearch_StrictRejectsUnknown(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/fhir/R4/Patient?foo=bar", "", "Prefer", "handling=strict")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_Post(t *testing.T) {
	s := newTestServer(t)
	s.create(t, janBody)

	req := httptest.NewRequest(http.MethodPost, "/api/fhir/R4/Patient/_search", strings.NewReader("family=Jansen"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var bundle fhir.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, 1, *bundle.Total)
}

// failingReader fails like a body that outgrew the request size limit.
type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestSearch_PostBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	tooLarge := fhir.NewError(http.StatusRequestEntityTooLarge, fhir.IssueTypeTooCostly, "request body exceeds maximum allowed size of 16 bytes")

	req := httptest.NewRequest(http.MethodPost, "/api/fhir/R4/Patient/_search", failingReader{err: tooLarge})
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, fhir.IssueTypeTooCostly, outcomeCode(t, rec))
}

func TestRouting_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/fhir/R4/Basic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, fhir.IssueTypeNotSupported, outcomeCode(t, rec))

	rec = s.do(http.MethodGet, "/api/fhir/STU3/Patient", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/fhir/R4/Patient/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/fhir/R4/Patient/a/b", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, fhir.IssueTypeNotFound, outcomeCode(t, rec))
}

func TestRouting_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, janBody)

	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodPatch, "/api/fhir/R4/Patient", "GET, POST"},
		{http.MethodDelete, "/api/fhir/R4/Patient", "GET, POST"},
		{http.MethodHead, "/api/fhir/R4/Patient", "GET, POST"},
		{http.MethodPatch, "/api/fhir/R4/Patient/" + id, "GET, PUT, DELETE"},
		{http.MethodPost, "/api/fhir/R4/Patient/" + id, "GET, PUT, DELETE"},
		{http.MethodHead, "/api/fhir/R4/Patient/" + id, "GET, PUT, DELETE"},
		{http.MethodGet, "/api/fhir/R4/Patient/_search", "POST"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, "")
			require.Equal(t, http.StatusMethodNotAllowed, rec.Code, rec.Body.String())
			assert.Equal(t, tt.allow, rec.Header().Get(echo.HeaderAllow))
			if tt.method != http.MethodHead {
				assert.Equal(t, fhir.IssueTypeNotSupported, outcomeCode(t, rec))
			}
		})
	}

	// unknown types stay 404 whatever the method
	rec := s.do(http.MethodPatch, "/api/fhir/R4/Basic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
