package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/telemetry"
)

// DefinitionKey is the echo context key holding the resolved *Definition.
const DefinitionKey = "fhir_definition"

// Handler serves the FHIR REST interactions for every registered type.
type Handler struct {
	registry *Registry
	svc      *Service
	baseURL  string
	metrics  *telemetry.Metrics
}

func NewHandler(registry *Registry, svc *Service, baseURL string, metrics *telemetry.Metrics) *Handler {
	return &Handler{registry: registry, svc: svc, baseURL: baseURL, metrics: metrics}
}

// RegisterRoutes adds the type and instance routes to g, which is mounted at
// /api/fhir/:version with authentication and authorization applied.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:type", h.instrument(fhir.InteractionSearch, h.Search))
	g.POST("/:type", h.instrument(fhir.InteractionCreate, h.Create))
	g.POST("/:type/_search", h.instrument(fhir.InteractionSearch, h.Search))
	g.GET("/:type/:id", h.instrument(fhir.InteractionRead, h.Read))
	g.PUT("/:type/:id", h.instrument(fhir.InteractionUpdate, h.Update))
	g.DELETE("/:type/:id", h.instrument(fhir.InteractionDelete, h.Delete))

	// Without these the group's catch-all answers other methods with a 404.
	g.Match([]string{http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead}, "/:type",
		methodNotAllowed(http.MethodGet, http.MethodPost))
	g.Match([]string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead}, "/:type/_search",
		methodNotAllowed(http.MethodPost))
	g.Match([]string{http.MethodPost, http.MethodPatch, http.MethodHead}, "/:type/:id",
		methodNotAllowed(http.MethodGet, http.MethodPut, http.MethodDelete))
}

func methodNotAllowed(allow ...string) echo.HandlerFunc {
	allowed := strings.Join(allow, ", ")
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderAllow, allowed)
		return fhir.NewError(http.StatusMethodNotAllowed, fhir.IssueTypeNotSupported,
			fmt.Sprintf("%s is not supported on %s", c.Request().Method, c.Request().URL.Path))
	}
}

// ResolveType looks up the :type path parameter. Unknown types are rejected
// before authentication results are used for anything else.
func (h *Handler) ResolveType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Param("type") == "" {
			return fhir.NewError(http.StatusNotFound, fhir.IssueTypeNotFound,
				fmt.Sprintf("no FHIR route for %s %s", c.Request().Method, c.Request().URL.Path))
		}
		def, ok := h.registry.Lookup(c.Param("type"))
		if !ok {
			return fhir.NewError(http.StatusNotFound, fhir.IssueTypeNotSupported,
				fmt.Sprintf("resource type %q is not supported", c.Param("type")))
		}
		c.Set(DefinitionKey, def)
		return next(c)
	}
}

func definition(c echo.Context) (*Definition, error) {
	def, ok := c.Get(DefinitionKey).(*Definition)
	if !ok {
		return nil, fhir.NewError(http.StatusNotFound, fhir.IssueTypeNotSupported, "resource type not resolved")
	}
	return def, nil
}

// instrument counts the interaction outcome per resource type.
func (h *Handler) instrument(interaction fhir.Interaction, fn echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := fn(c)
		status := c.Response().Status
		if err != nil {
			status = fhir.ToError(err).Status
		}
		h.metrics.RecordInteraction(c.Param("type"), string(interaction), telemetry.OutcomeForStatus(status))
		return err
	}
}

func (h *Handler) typeURL(resourceType string) string {
	return h.baseURL + "/api/fhir/R4/" + resourceType
}

// Search returns a searchset Bundle. POST _search reads form encoded
// parameters in addition to the query string.
func (h *Handler) Search(c echo.Context) error {
	def, err := definition(c)
	if err != nil {
		return err
	}

	query := c.QueryParams()
	if c.Request().Method == http.MethodPost {
		if query, err = c.FormParams(); err != nil {
			var fe *fhir.Error
			if errors.As(err, &fe) {
				return fe
			}
			return fhir.Errorf("invalid form body: %v", err)
		}
	}
	params, err := fhir.ParseSearchParams(query)
	if err != nil {
		return err
	}
	prefer := fhir.ParsePreferHeader(c.Request().Header.Get("Prefer"))

	res, err := h.svc.Search(c.Request().Context(), def, params, prefer.Strict())
	if err != nil {
		return err
	}

	entries := make([]json.RawMessage, len(res.Records))
	for i, rec := range res.Records {
		entries[i] = rec.Resource
	}
	bundle := fhir.NewSearchBundle(entries, fhir.SearchBundleParams{
		TypeURL: h.typeURL(def.Type),
		Query:   appliedQuery(params, res.Ignored),
		Count:   params.Count,
		Offset:  params.Offset,
		Total:   res.Total,
	})
	return fhir.JSON(c, http.StatusOK, bundle)
}

// appliedQuery is the query echoed in Bundle links: the filters that were
// applied plus _sort.
func appliedQuery(params *fhir.SearchParams, ignored []string) url.Values {
	q := url.Values{}
	for name, values := range params.Filters {
		q[name] = values
	}
	for _, name := range ignored {
		q.Del(name)
	}
	if params.Sort != "" {
		q.Set(fhir.ParamSort, params.Sort)
	}
	return q
}

func (h *Handler) Read(c echo.Context) error {
	def, err := definition(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Read(c.Request().Context(), def, c.Param("id"))
	if err != nil {
		return err
	}

	fhir.SetVersionHeaders(c, rec.VersionID, rec.LastUpdated)
	if fhir.CheckIfNoneMatch(c, rec.VersionID) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.Blob(http.StatusOK, fhir.MIMEFHIRJSON, rec.Resource)
}

func (h *Handler) Create(c echo.Context) error {
	def, err := definition(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}

	rec, err := h.svc.Create(c.Request().Context(), def, body)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderLocation,
		fmt.Sprintf("%s/%s/_history/%d", h.typeURL(def.Type), rec.ID, rec.VersionID))
	fhir.SetVersionHeaders(c, rec.VersionID, rec.LastUpdated)
	return respond(c, http.StatusCreated, rec, fmt.Sprintf("created %s/%s", def.Type, rec.ID))
}

func (h *Handler) Update(c echo.Context) error {
	def, err := definition(c)
	if err != nil {
		return err
	}
	ifMatch, _, err := fhir.IfMatchVersion(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}

	rec, err := h.svc.Update(c.Request().Context(), def, c.Param("id"), body, ifMatch)
	if err != nil {
		return err
	}

	fhir.SetVersionHeaders(c, rec.VersionID, rec.LastUpdated)
	return respond(c, http.StatusOK, rec, fmt.Sprintf("updated %s/%s to version %d", def.Type, rec.ID, rec.VersionID))
}

func (h *Handler) Delete(c echo.Context) error {
	def, err := definition(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), def, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// respond writes rec according to the Prefer return directive.
func respond(c echo.Context, status int, rec *Record, message string) error {
	switch fhir.ParsePreferHeader(c.Request().Header.Get("Prefer")).Return {
	case fhir.ReturnMinimal:
		return c.NoContent(status)
	case fhir.ReturnOperationOutcome:
		return fhir.JSON(c, status, fhir.SuccessOutcome(message))
	}
	return c.Blob(status, fhir.MIMEFHIRJSON, rec.Resource)
}

// readBody checks the media type and reads the request body.
func readBody(c echo.Context) ([]byte, error) {
	if ct := c.Request().Header.Get(echo.HeaderContentType); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || (mt != "application/fhir+json" && mt != echo.MIMEApplicationJSON) {
			return nil, fhir.NewError(http.StatusUnsupportedMediaType, fhir.IssueTypeNotSupported,
				fmt.Sprintf("unsupported content type %q, use application/fhir+json", ct))
		}
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fhir.NewError(http.StatusBadRequest, fhir.IssueTypeStructure, "request body is empty")
	}
	return body, nil
}
