// Package openapi derives an OpenAPI 3.0 document from the
// CapabilityStatement and serves it together with a Swagger UI page.
package openapi

import (
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// Generator builds the OpenAPI document from the CapabilityBuilder.
type Generator struct {
	capBuilder *fhir.CapabilityBuilder
	version    string
	baseURL    string

	once sync.Once
	spec map[string]interface{}
}

func NewGenerator(capBuilder *fhir.CapabilityBuilder, version, baseURL string) *Generator {
	return &Generator{capBuilder: capBuilder, version: version, baseURL: baseURL}
}

// Spec returns the document, built on first use. The registry is fixed at
// start-up so the document never changes afterwards.
func (g *Generator) Spec() map[string]interface{} {
	g.once.Do(func() { g.spec = g.GenerateSpec() })
	return g.spec
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	statement := g.capBuilder.Build()

	paths := make(map[string]interface{})
	var (
		resourceTypes []string
		tags          []map[string]interface{}
	)

	restArray, _ := statement["rest"].([]map[string]interface{})
	if len(restArray) > 0 {
		resources, _ := restArray[0]["resource"].([]map[string]interface{})
		for _, res := range resources {
			resType, _ := res["type"].(string)
			if resType == "" {
				continue
			}
			resourceTypes = append(resourceTypes, resType)

			tag := map[string]interface{}{"name": resType}
			if profile, _ := res["profile"].(string); profile != "" {
				tag["description"] = "Profile: " + profile
			}
			tags = append(tags, tag)

			searchParams := extractSearchParams(res)
			for path, item := range resourcePaths(resType, searchParams) {
				paths[path] = item
			}
		}
	}
	sort.Strings(resourceTypes)

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "nl-core FHIR R4 API",
			"version": g.version,
			"description": "Multi-tenant FHIR R4 API for Dutch zibs (nl-core profiles). " +
				"Every request under /api/fhir/R4 needs Gateway credentials and an X-Tenant-ID header.",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"tags":  tags,
		"paths": paths,
		"security": []map[string][]string{
			{"gatewayCookie": {}},
			{"apiKey": {}},
			{"bearer": {}},
		},
		"components": map[string]interface{}{
			"schemas":         buildComponentSchemas(resourceTypes),
			"parameters":      sharedParameters(),
			"responses":       errorResponses(),
			"securitySchemes": securitySchemes(),
		},
	}
}

// searchParamDef holds a search parameter name and FHIR type.
type searchParamDef struct {
	Name string
	Type string
}

func extractSearchParams(res map[string]interface{}) []searchParamDef {
	var params []searchParamDef
	rawParams, _ := res["searchParam"].([]map[string]string)
	for _, sp := range rawParams {
		params = append(params, searchParamDef{Name: sp["name"], Type: sp["type"]})
	}
	return params
}

func resourcePaths(resType string, params []searchParamDef) map[string]interface{} {
	base := "/api/fhir/R4/" + resType
	tags := []string{resType}
	schemaRef := "#/components/schemas/" + resType

	search := func(id string) map[string]interface{} {
		return map[string]interface{}{
			"summary":     "Search " + resType,
			"operationId": id,
			"tags":        tags,
			"responses": withErrors(map[string]interface{}{
				"200": response("Search results Bundle", "#/components/schemas/Bundle"),
			}),
		}
	}

	searchGet := search("search" + resType)
	searchGet["parameters"] = append([]interface{}{tenantRef()}, buildSearchParameters(params)...)

	searchPost := search("search" + resType + "Post")
	searchPost["parameters"] = []interface{}{tenantRef()}
	searchPost["requestBody"] = map[string]interface{}{
		"required": false,
		"content": map[string]interface{}{
			"application/x-www-form-urlencoded": map[string]interface{}{
				"schema": formSchema(params),
			},
		},
	}

	return map[string]interface{}{
		base: map[string]interface{}{
			"get": searchGet,
			"post": map[string]interface{}{
				"summary":     "Create " + resType,
				"operationId": "create" + resType,
				"tags":        tags,
				"parameters":  []interface{}{tenantRef(), preferRef()},
				"requestBody": requestBody(schemaRef),
				"responses": withErrors(map[string]interface{}{
					"201": withHeaders(response("Created", schemaRef), "Location", "ETag", "Last-Modified"),
				}),
			},
		},
		base + "/_search": map[string]interface{}{
			"post": searchPost,
		},
		base + "/{id}": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Read " + resType,
				"operationId": "read" + resType,
				"tags":        tags,
				"parameters": []interface{}{
					tenantRef(), idRef(),
					map[string]interface{}{"name": "If-None-Match", "in": "header", "schema": map[string]string{"type": "string"}},
				},
				"responses": withErrors(map[string]interface{}{
					"200": withHeaders(response("Current version", schemaRef), "ETag", "Last-Modified"),
					"304": map[string]interface{}{"description": "Not modified"},
					"410": map[string]interface{}{"$ref": "#/components/responses/Gone"},
				}),
			},
			"put": map[string]interface{}{
				"summary":     "Update " + resType,
				"operationId": "update" + resType,
				"tags":        tags,
				"parameters": []interface{}{
					tenantRef(), idRef(), preferRef(),
					map[string]interface{}{
						"name": "If-Match", "in": "header",
						"description": `Expected version as a weak ETag, e.g. W/"3"`,
						"schema":      map[string]string{"type": "string"},
					},
				},
				"requestBody": requestBody(schemaRef),
				"responses": withErrors(map[string]interface{}{
					"200": withHeaders(response("Updated", schemaRef), "ETag", "Last-Modified"),
					"409": map[string]interface{}{"$ref": "#/components/responses/Conflict"},
					"410": map[string]interface{}{"$ref": "#/components/responses/Gone"},
				}),
			},
			"delete": map[string]interface{}{
				"summary":     "Delete " + resType,
				"operationId": "delete" + resType,
				"tags":        tags,
				"parameters":  []interface{}{tenantRef(), idRef()},
				"responses": withErrors(map[string]interface{}{
					"204": map[string]interface{}{"description": "Deleted"},
				}),
			},
		},
	}
}

// buildSearchParameters lists the resource's search parameters followed
// by the paging controls.
func buildSearchParameters(params []searchParamDef) []interface{} {
	result := make([]interface{}, 0, len(params)+3)
	for _, p := range params {
		result = append(result, map[string]interface{}{
			"name":        p.Name,
			"in":          "query",
			"description": "FHIR " + p.Type + " search parameter",
			"schema":      fhirSearchParamSchema(p.Type),
		})
	}

	controls := []struct {
		name   string
		schema map[string]interface{}
		desc   string
	}{
		{fhir.ParamCount, map[string]interface{}{"type": "integer", "minimum": 0, "maximum": fhir.MaxCount, "default": fhir.DefaultCount}, "Number of results per page"},
		{fhir.ParamOffset, map[string]interface{}{"type": "integer", "minimum": 0}, "Starting index for results"},
		{fhir.ParamSort, map[string]interface{}{"type": "string"}, "Comma separated sort keys, prefix with - for descending"},
	}
	for _, cp := range controls {
		result = append(result, map[string]interface{}{
			"name":        cp.name,
			"in":          "query",
			"schema":      cp.schema,
			"description": cp.desc,
		})
	}
	return result
}

func formSchema(params []searchParamDef) map[string]interface{} {
	props := map[string]interface{}{
		fhir.ParamCount:  map[string]string{"type": "integer"},
		fhir.ParamOffset: map[string]string{"type": "integer"},
		fhir.ParamSort:   map[string]string{"type": "string"},
	}
	for _, p := range params {
		props[p.Name] = fhirSearchParamSchema(p.Type)
	}
	return map[string]interface{}{"type": "object", "properties": props}
}

// fhirSearchParamSchema maps a FHIR search parameter type to an OpenAPI schema.
func fhirSearchParamSchema(fhirType string) map[string]interface{} {
	switch fhirType {
	case "date":
		// prefixed values such as ge2024-01-01 are allowed
		return map[string]interface{}{"type": "string", "example": "ge2024-01-01"}
	case "uri":
		return map[string]interface{}{"type": "string", "format": "uri"}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

func requestBody(schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/fhir+json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func response(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/fhir+json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func withHeaders(resp map[string]interface{}, names ...string) map[string]interface{} {
	headers := make(map[string]interface{}, len(names))
	for _, n := range names {
		headers[n] = map[string]interface{}{"schema": map[string]string{"type": "string"}}
	}
	resp["headers"] = headers
	return resp
}

// withErrors adds the error responses every FHIR operation can return.
func withErrors(responses map[string]interface{}) map[string]interface{} {
	for code, name := range map[string]string{
		"400": "BadRequest",
		"401": "Unauthorized",
		"403": "Forbidden",
		"404": "NotFound",
		"502": "GatewayUnavailable",
	} {
		if _, ok := responses[code]; !ok {
			responses[code] = map[string]interface{}{"$ref": "#/components/responses/" + name}
		}
	}
	return responses
}

func tenantRef() map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/parameters/TenantID"}
}

func idRef() map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/parameters/ID"}
}

func preferRef() map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/parameters/Prefer"}
}

func sharedParameters() map[string]interface{} {
	return map[string]interface{}{
		"TenantID": map[string]interface{}{
			"name":        "X-Tenant-ID",
			"in":          "header",
			"required":    true,
			"description": "Tenant the request is scoped to",
			"schema":      map[string]string{"type": "string", "pattern": "^[a-zA-Z0-9_-]{1,64}$"},
		},
		"ID": map[string]interface{}{
			"name":     "id",
			"in":       "path",
			"required": true,
			"schema":   map[string]string{"type": "string", "format": "uuid"},
		},
		"Prefer": map[string]interface{}{
			"name":        "Prefer",
			"in":          "header",
			"description": "return=minimal, return=representation or return=OperationOutcome",
			"schema":      map[string]string{"type": "string"},
		},
	}
}

func errorResponses() map[string]interface{} {
	outcome := func(description string) map[string]interface{} {
		return response(description, "#/components/schemas/OperationOutcome")
	}
	return map[string]interface{}{
		"BadRequest":         outcome("Invalid request or resource"),
		"Unauthorized":       outcome("Missing or rejected credentials"),
		"Forbidden":          outcome("Role or scope does not allow the interaction"),
		"NotFound":           outcome("Unknown resource"),
		"Conflict":           outcome("If-Match version does not match"),
		"Gone":               outcome("Resource has been deleted"),
		"GatewayUnavailable": outcome("Authentication gateway unavailable"),
	}
}

func securitySchemes() map[string]interface{} {
	return map[string]interface{}{
		"gatewayCookie": map[string]interface{}{
			"type":        "apiKey",
			"in":          "cookie",
			"name":        "session",
			"description": "Gateway session cookie",
		},
		"apiKey": map[string]interface{}{
			"type": "apiKey",
			"in":   "header",
			"name": "X-API-Key",
		},
		"bearer": map[string]interface{}{
			"type":         "http",
			"scheme":       "bearer",
			"bearerFormat": "JWT",
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>nl-core FHIR R4 API</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes mounts GET /openapi and GET /docs on the /api group.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.Spec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
