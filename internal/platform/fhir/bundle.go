package fhir

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// SearchBundleParams holds pagination and link information for a search bundle.
// TypeURL is the absolute URL of the searched type, e.g.
// https://host/api/fhir/R4/Patient.
type SearchBundleParams struct {
	TypeURL string
	Query   url.Values
	Count   int
	Offset  int
	Total   int
}

// NewSearchBundle creates a searchset Bundle with pagination links. Each
// resource must carry its id; fullUrl is TypeURL/id.
func NewSearchBundle(resources []json.RawMessage, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, raw := range resources {
		entries[i] = BundleEntry{
			FullURL:  entryFullURL(raw, params.TypeURL),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	total := params.Total
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Timestamp:    &now,
		Total:        &total,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

func entryFullURL(raw json.RawMessage, typeURL string) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
		return ""
	}
	return typeURL + "/" + head.ID
}

// buildPaginationLinks creates self, next, and previous links for searchset bundles.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	links := []BundleLink{
		{Relation: "self", URL: pageURL(params, params.Offset)},
	}

	// Next link: only if there are more results
	nextOffset := params.Offset + params.Count
	if params.Count > 0 && nextOffset < params.Total {
		links = append(links, BundleLink{Relation: "next", URL: pageURL(params, nextOffset)})
	}

	// Previous link: only if not at the first page
	if params.Offset > 0 {
		prevOffset := params.Offset - params.Count
		if prevOffset < 0 {
			prevOffset = 0
		}
		links = append(links, BundleLink{Relation: "previous", URL: pageURL(params, prevOffset)})
	}

	return links
}

func pageURL(params SearchBundleParams, offset int) string {
	q := url.Values{}
	for k, v := range params.Query {
		if k == ParamCount || k == ParamOffset {
			continue
		}
		q[k] = v
	}
	q.Set(ParamCount, strconv.Itoa(params.Count))
	q.Set(ParamOffset, strconv.Itoa(offset))
	return params.TypeURL + "?" + q.Encode()
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
