package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// TxRunner runs fn inside the caller's session transaction. db.Runner is
// the production implementation.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements the FHIR interactions on top of a Store. Every call
// runs in one transaction; returned records carry stamped resource JSON.
type Service struct {
	store Store
	tx    TxRunner
}

func NewService(store Store, tx TxRunner) *Service {
	return &Service{store: store, tx: tx}
}

// Create validates body and stores it under a new server assigned id.
func (s *Service) Create(ctx context.Context, def *Definition, body []byte) (*Record, error) {
	resource, cols, err := s.prepare(def, body, "")
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var rec *Record
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Create(ctx, def, id, resource, cols)
		return err
	})
	if err != nil {
		return nil, storeError(def, id, err)
	}
	return stamped(rec)
}

func (s *Service) Read(ctx context.Context, def *Definition, id string) (*Record, error) {
	var rec *Record
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Read(ctx, def, id)
		return err
	})
	if err != nil {
		return nil, storeError(def, id, err)
	}
	return stamped(rec)
}

// Update replaces the resource. ifMatch > 0 requires the current version to
// equal it.
func (s *Service) Update(ctx context.Context, def *Definition, id string, body []byte, ifMatch int) (*Record, error) {
	resource, cols, err := s.prepare(def, body, id)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Update(ctx, def, id, resource, cols, ifMatch)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, fhir.WrapError(http.StatusConflict, fhir.IssueTypeConflict,
				fmt.Sprintf("%s/%s: version %d is not the current version", def.Type, id, ifMatch), err)
		}
		return nil, storeError(def, id, err)
	}
	return stamped(rec)
}

func (s *Service) Delete(ctx context.Context, def *Definition, id string) error {
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, def, id)
	})
	if err != nil {
		return storeError(def, id, err)
	}
	return nil
}

func (s *Service) Search(ctx context.Context, def *Definition, params *fhir.SearchParams, strict bool) (*SearchResult, error) {
	var res *SearchResult
	err := s.tx.Run(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.store.Search(ctx, def, params, strict)
		return err
	})
	if err != nil {
		return nil, storeError(def, "", err)
	}
	for i, rec := range res.Records {
		if res.Records[i], err = stamped(rec); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) prepare(def *Definition, body []byte, id string) ([]byte, Columns, error) {
	resource, err := prepareBody(def, body, id)
	if err != nil {
		return nil, nil, err
	}
	cols, err := def.Extract(resource)
	if err != nil {
		return nil, nil, err
	}
	return resource, cols, nil
}

func stamped(rec *Record) (*Record, error) {
	out, err := Stamp(rec.Resource, rec.ID, rec.VersionID, rec.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("stamp %s: %w", rec.ID, err)
	}
	cp := *rec
	cp.Resource = out
	return &cp, nil
}

// storeError maps store sentinels onto OperationOutcome errors. Database
// errors pass through for the central error handler.
func storeError(def *Definition, id string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fhir.NotFoundError(def.Type, id)
	case errors.Is(err, ErrGone):
		return fhir.GoneError(def.Type, id)
	case errors.Is(err, ErrVersionConflict):
		return fhir.WrapError(http.StatusConflict, fhir.IssueTypeConflict, "version conflict", err)
	}
	return err
}
