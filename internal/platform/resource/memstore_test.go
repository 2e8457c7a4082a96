package resource

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// memStore is an in-memory Store for handler and service tests.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*memRow
}

type memRow struct {
	typ     string
	rec     Record
	cols    Columns
	deleted bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*memRow{}}
}

func (s *memStore) key(def *Definition, id string) string { return def.Type + "/" + id }

func (s *memStore) Create(_ context.Context, def *Definition, id string, resource []byte, cols Columns) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := &memRow{typ: def.Type, rec: Record{ID: id, VersionID: 1, LastUpdated: time.Now().UTC(), Resource: resource}, cols: cols}
	s.rows[s.key(def, id)] = row
	rec := row.rec
	return &rec, nil
}

func (s *memStore) Read(_ context.Context, def *Definition, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[s.key(def, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if row.deleted {
		return nil, ErrGone
	}
	rec := row.rec
	return &rec, nil
}

func (s *memStore) Update(_ context.Context, def *Definition, id string, resource []byte, cols Columns, ifMatch int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[s.key(def, id)]
	switch {
	case !ok:
		return nil, ErrNotFound
	case row.deleted:
		return nil, ErrGone
	case ifMatch > 0 && ifMatch != row.rec.VersionID:
		return nil, ErrVersionConflict
	}
	row.rec.VersionID++
	row.rec.LastUpdated = time.Now().UTC()
	row.rec.Resource = resource
	row.cols = cols
	rec := row.rec
	return &rec, nil
}

func (s *memStore) Delete(_ context.Context, def *Definition, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[s.key(def, id)]
	if !ok {
		return ErrNotFound
	}
	if !row.deleted {
		row.deleted = true
		row.rec.VersionID++
	}
	return nil
}

// Search supports equality on extracted columns only.
func (s *memStore) Search(_ context.Context, def *Definition, params *fhir.SearchParams, strict bool) (*SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &SearchResult{}
	filters := map[string]string{}
	for name := range params.Filters {
		cfg, ok := def.SearchParams[name]
		if !ok {
			if strict {
				return nil, fhir.Errorf("unknown search parameter %q", name)
			}
			res.Ignored = append(res.Ignored, name)
			continue
		}
		filters[cfg.Column] = params.Filters.Get(name)
	}

	var matches []*Record
	for _, row := range s.rows {
		if row.typ != def.Type || row.deleted {
			continue
		}
		match := true
		for col, want := range filters {
			if v, _ := row.cols[col].(string); v != want {
				match = false
			}
		}
		if match {
			rec := row.rec
			matches = append(matches, &rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	res.Total = len(matches)
	end := params.Offset + params.Count
	if end > len(matches) {
		end = len(matches)
	}
	if params.Offset < end {
		res.Records = matches[params.Offset:end]
	}
	return res, nil
}

// directRunner runs fn without a transaction.
type directRunner struct{ calls int }

func (r *directRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}
