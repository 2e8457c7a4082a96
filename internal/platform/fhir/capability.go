package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// FHIRVersion is the only FHIR release served.
const FHIRVersion = "4.0.1"

// SearchParam describes a search parameter for use with the CapabilityBuilder.
type SearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// CapabilityConfig holds top-level server metadata for the CapabilityStatement.
type CapabilityConfig struct {
	ServerName    string
	ServerVersion string
	Publisher     string
	Description   string
	BaseURL       string
}

// ResourceCapabilityDef is the description of one served resource type.
type ResourceCapabilityDef struct {
	Type              string
	Profile           string
	SupportedProfiles []string
	Interactions      []string
	SearchParams      []SearchParam
}

// CapabilityBuilder accumulates resource registrations during server
// initialization so the metadata response reflects what is actually served.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]ResourceCapabilityDef
	config    CapabilityConfig
}

func NewCapabilityBuilder(cfg CapabilityConfig) *CapabilityBuilder {
	if cfg.ServerName == "" {
		cfg.ServerName = "zib-fhir"
	}
	if cfg.Description == "" {
		cfg.Description = "Multi-tenant FHIR R4 server for Dutch nl-core profiles"
	}
	return &CapabilityBuilder{
		resources: make(map[string]ResourceCapabilityDef),
		config:    cfg,
	}
}

// AddResourceCapability registers a resource type. Registering the same type
// twice replaces the earlier entry.
func (b *CapabilityBuilder) AddResourceCapability(def ResourceCapabilityDef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resources[def.Type] = def
}

// ResourceCount returns the number of registered resource types.
func (b *CapabilityBuilder) ResourceCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.resources)
}

// GetResourceTypes returns the registered resource types in alphabetical order.
func (b *CapabilityBuilder) GetResourceTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)
	return types
}

// Build constructs the full CapabilityStatement as a map suitable for JSON
// serialization. Resources are sorted alphabetically by type.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	types := b.GetResourceTypes()

	b.mu.RLock()
	defer b.mu.RUnlock()

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		resources = append(resources, buildResourceEntry(b.resources[rt]))
	}

	rest := map[string]interface{}{
		"mode":     "server",
		"resource": resources,
		"security": buildSecurity(),
	}

	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  FHIRVersion,
		"format":       []string{"json", "application/fhir+json"},
		"software": map[string]string{
			"name":    b.config.ServerName,
			"version": b.config.ServerVersion,
		},
		"implementation": map[string]string{
			"description": b.config.Description,
			"url":         b.config.BaseURL + "/api/fhir/R4",
		},
		"publisher": b.config.Publisher,
		"rest":      []map[string]interface{}{rest},
	}
}

// buildResourceEntry constructs the map for a single resource type.
func buildResourceEntry(def ResourceCapabilityDef) map[string]interface{} {
	res := map[string]interface{}{
		"type":              def.Type,
		"versioning":        "versioned",
		"readHistory":       false,
		"updateCreate":      false,
		"conditionalCreate": false,
		"conditionalUpdate": false,
		"conditionalDelete": "not-supported",
	}
	if def.Profile != "" {
		res["profile"] = def.Profile
	}
	if len(def.SupportedProfiles) > 0 {
		res["supportedProfile"] = def.SupportedProfiles
	}

	interactions := make([]map[string]string, len(def.Interactions))
	for i, code := range def.Interactions {
		interactions[i] = map[string]string{"code": code}
	}
	res["interaction"] = interactions

	if len(def.SearchParams) > 0 {
		params := make([]map[string]string, len(def.SearchParams))
		for i, sp := range def.SearchParams {
			p := map[string]string{
				"name": sp.Name,
				"type": sp.Type,
			}
			if sp.Documentation != "" {
				p["documentation"] = sp.Documentation
			}
			params[i] = p
		}
		res["searchParam"] = params
	}
	return res
}

// buildSecurity declares the Gateway session scheme.
func buildSecurity() map[string]interface{} {
	return map[string]interface{}{
		"cors": true,
		"service": []map[string]interface{}{
			{
				"coding": []map[string]string{
					{
						"system":  "http://terminology.hl7.org/CodeSystem/restful-security-service",
						"code":    "OAuth",
						"display": "OAuth",
					},
				},
				"text": "Gateway session: cookie, X-API-Key or bearer token",
			},
		},
		"description": "Requests are authenticated by the Gateway session endpoint and " +
			"scoped to the tenant in the X-Tenant-ID header.",
	}
}

// DefaultInteractions returns the CRUD and search interactions every
// registered resource type supports.
func DefaultInteractions() []string {
	return []string{"read", "search-type", "create", "update", "delete"}
}

// CapabilityHandler serves the CapabilityStatement. The statement is built
// once, when the handler is created.
type CapabilityHandler struct {
	statement map[string]interface{}
}

func NewCapabilityHandler(builder *CapabilityBuilder) *CapabilityHandler {
	return &CapabilityHandler{statement: builder.Build()}
}

// GetMetadata returns the full CapabilityStatement.
func (h *CapabilityHandler) GetMetadata(c echo.Context) error {
	return JSON(c, http.StatusOK, h.statement)
}
