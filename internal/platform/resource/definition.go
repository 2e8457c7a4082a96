// Package resource serves the FHIR REST interactions of every registered
// resource type from one generic handler, service and Postgres store.
package resource

import (
	"fmt"
	"sort"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// Columns holds the scalar search columns extracted from a resource body,
// keyed by column name.
type Columns map[string]interface{}

// Definition describes how one FHIR resource type is stored and searched.
type Definition struct {
	Type     string
	Table    string
	Profile  string   // default nl-core profile added to meta.profile
	Profiles []string // every supported profile, Profile included

	// ProfileFor optionally picks the profile added to a body without
	// meta.profile. Returning "" falls back to Profile.
	ProfileFor func(resource map[string]interface{}) string

	SearchParams map[string]fhir.SearchParamConfig
	DefaultSort  string

	// Extract decodes and validates a resource body and returns its search
	// columns. Validation problems are returned as a *fhir.Error.
	Extract func(body []byte) (Columns, error)
}

// commonParams are served by every resource type.
var commonParams = map[string]fhir.SearchParamConfig{
	"_id":          {Type: fhir.SearchParamID, Column: "id"},
	"_lastUpdated": {Type: fhir.SearchParamDate, Column: "last_updated"},
}

func (d *Definition) validate() error {
	switch {
	case d.Type == "":
		return fmt.Errorf("resource definition without type")
	case d.Table == "":
		return fmt.Errorf("%s: table is required", d.Type)
	case d.Extract == nil:
		return fmt.Errorf("%s: extract function is required", d.Type)
	}
	return nil
}

// Registry holds the definitions of all served resource types. It is built
// at start-up and read-only afterwards.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry validates defs and adds the common search parameters.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Type]; dup {
			return nil, fmt.Errorf("%s: registered twice", d.Type)
		}

		params := make(map[string]fhir.SearchParamConfig, len(d.SearchParams)+len(commonParams))
		for name, cfg := range commonParams {
			params[name] = cfg
		}
		for name, cfg := range d.SearchParams {
			params[name] = cfg
		}
		d.SearchParams = params
		if d.DefaultSort == "" {
			d.DefaultSort = "last_updated DESC"
		}
		if d.Profile != "" && !contains(d.Profiles, d.Profile) {
			d.Profiles = append([]string{d.Profile}, d.Profiles...)
		}
		r.defs[d.Type] = &d
	}
	return r, nil
}

// Lookup returns the definition of a resource type.
func (r *Registry) Lookup(resourceType string) (*Definition, bool) {
	d, ok := r.defs[resourceType]
	return d, ok
}

// Definitions returns all definitions sorted by type.
func (r *Registry) Definitions() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// RegisterCapabilities adds every definition to the CapabilityStatement.
func (r *Registry) RegisterCapabilities(b *fhir.CapabilityBuilder) {
	for _, d := range r.Definitions() {
		names := make([]string, 0, len(d.SearchParams))
		for name := range d.SearchParams {
			names = append(names, name)
		}
		sort.Strings(names)

		params := make([]fhir.SearchParam, 0, len(names))
		for _, name := range names {
			params = append(params, fhir.SearchParam{
				Name: name,
				Type: d.SearchParams[name].Type.FHIRType(),
			})
		}
		b.AddResourceCapability(fhir.ResourceCapabilityDef{
			Type:              d.Type,
			Profile:           d.Profile,
			SupportedProfiles: d.Profiles,
			Interactions:      fhir.DefaultInteractions(),
			SearchParams:      params,
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
