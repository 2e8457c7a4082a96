package resource

import (
	"context"
	"errors"
	"time"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrGone            = errors.New("resource deleted")
	ErrVersionConflict = errors.New("resource version conflict")
)

// Record is one stored resource version.
type Record struct {
	ID          string
	VersionID   int
	LastUpdated time.Time
	Resource    []byte
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Records []*Record
	Total   int
	Ignored []string // search parameters that were not applied
}

// Store persists resources of any registered type. Implementations scope
// every statement to the tenant of the session in ctx.
type Store interface {
	Create(ctx context.Context, def *Definition, id string, resource []byte, cols Columns) (*Record, error)
	Read(ctx context.Context, def *Definition, id string) (*Record, error)
	// Update replaces the current version. ifMatch > 0 makes it conditional.
	Update(ctx context.Context, def *Definition, id string, resource []byte, cols Columns, ifMatch int) (*Record, error)
	// Delete soft deletes id. Deleting a deleted resource is not an error.
	Delete(ctx context.Context, def *Definition, id string) error
	Search(ctx context.Context, def *Definition, params *fhir.SearchParams, strict bool) (*SearchResult, error)
}
