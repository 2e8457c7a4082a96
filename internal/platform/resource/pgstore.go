package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nlcore/zib-fhir/internal/platform/db"
	"github.com/nlcore/zib-fhir/internal/platform/fhir"
	"github.com/nlcore/zib-fhir/internal/platform/telemetry"
)

// PGStore is the Postgres Store. It runs on the session transaction opened
// by db.Runner, so row-level security applies to every statement.
type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) conn(ctx context.Context) (db.Querier, string, error) {
	q := db.QuerierFromContext(ctx)
	tenant := db.TenantFromContext(ctx)
	if q == nil || tenant == "" {
		return nil, "", db.ErrNoSession
	}
	return q, tenant, nil
}

func startSpan(ctx context.Context, op string, def *Definition) (context.Context, func(error)) {
	ctx, span := telemetry.StartSpan(ctx, "store."+op,
		telemetry.AttrResourceType.String(def.Type),
		telemetry.AttrTable.String(def.Table),
	)
	return ctx, func(err error) { telemetry.EndSpan(span, err) }
}

// sortedColumns returns the column names of cols in a stable order.
func sortedColumns(cols Columns) []string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *PGStore) Create(ctx context.Context, def *Definition, id string, resource []byte, cols Columns) (rec *Record, err error) {
	ctx, end := startSpan(ctx, "create", def)
	defer func() { end(err) }()

	q, tenant, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	// Postgres keeps microseconds; truncate so the response matches a later read.
	now := time.Now().UTC().Truncate(time.Microsecond)
	names := []string{"id", "tenant_id", "version_id", "last_updated", "resource"}
	args := []interface{}{id, tenant, 1, now, resource}
	for _, name := range sortedColumns(cols) {
		names = append(names, name)
		args = append(args, cols[name])
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	// No RETURNING: the inserted row may be invisible to the caller under RLS.
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.Table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", def.Type, err)
	}
	return &Record{ID: id, VersionID: 1, LastUpdated: now, Resource: resource}, nil
}

func (s *PGStore) Read(ctx context.Context, def *Definition, id string) (rec *Record, err error) {
	ctx, end := startSpan(ctx, "read", def)
	defer func() { end(err) }()

	q, tenant, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if !fhir.IsUUID(id) {
		return nil, ErrNotFound
	}

	var (
		r       Record
		deleted bool
	)
	err = q.QueryRow(ctx,
		fmt.Sprintf(`SELECT id::text, version_id, last_updated, deleted_at IS NOT NULL, resource
			FROM %s WHERE id = $1 AND tenant_id = $2`, def.Table),
		strings.ToLower(id), tenant,
	).Scan(&r.ID, &r.VersionID, &r.LastUpdated, &deleted, &r.Resource)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", def.Type, err)
	}
	if deleted {
		return nil, ErrGone
	}
	return &r, nil
}

func (s *PGStore) Update(ctx context.Context, def *Definition, id string, resource []byte, cols Columns, ifMatch int) (rec *Record, err error) {
	ctx, end := startSpan(ctx, "update", def)
	defer func() { end(err) }()

	q, tenant, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if !fhir.IsUUID(id) {
		return nil, ErrNotFound
	}
	id = strings.ToLower(id)

	sets := []string{"resource = $1"}
	args := []interface{}{resource}
	for _, name := range sortedColumns(cols) {
		args = append(args, cols[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	args = append(args, id, tenant)
	where := fmt.Sprintf("id = $%d AND tenant_id = $%d AND deleted_at IS NULL", len(args)-1, len(args))
	if ifMatch > 0 {
		args = append(args, ifMatch)
		where += fmt.Sprintf(" AND version_id = $%d", len(args))
	}

	// version_id and last_updated are maintained by the bump_resource_version trigger.
	r := Record{ID: id, Resource: resource}
	err = q.QueryRow(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING version_id, last_updated",
			def.Table, strings.Join(sets, ", "), where),
		args...,
	).Scan(&r.VersionID, &r.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missing(ctx, q, def, id, tenant, ifMatch > 0)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", def.Type, err)
	}
	return &r, nil
}

// missing explains why a guarded UPDATE touched no row.
func (s *PGStore) missing(ctx context.Context, q db.Querier, def *Definition, id, tenant string, conditional bool) error {
	var deleted bool
	err := q.QueryRow(ctx,
		fmt.Sprintf("SELECT deleted_at IS NOT NULL FROM %s WHERE id = $1 AND tenant_id = $2", def.Table),
		id, tenant,
	).Scan(&deleted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("check %s existence: %w", def.Type, err)
	case deleted:
		return ErrGone
	case conditional:
		return ErrVersionConflict
	}
	// visible but not updatable for this caller
	return ErrNotFound
}

func (s *PGStore) Delete(ctx context.Context, def *Definition, id string) (err error) {
	ctx, end := startSpan(ctx, "delete", def)
	defer func() { end(err) }()

	q, tenant, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if !fhir.IsUUID(id) {
		return ErrNotFound
	}
	id = strings.ToLower(id)

	tag, err := q.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET deleted_at = NOW() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL", def.Table),
		id, tenant,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", def.Type, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := s.missing(ctx, q, def, id, tenant, false); !errors.Is(err, ErrGone) {
		return err
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, def *Definition, params *fhir.SearchParams, strict bool) (res *SearchResult, err error) {
	ctx, end := startSpan(ctx, "search", def)
	defer func() { end(err) }()

	q, tenant, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	sq := fhir.NewSearchQuery(def.Table, "id::text, version_id, last_updated, resource")
	sq.Add(fmt.Sprintf("tenant_id = $%d", sq.Idx()), tenant)
	sq.Add("deleted_at IS NULL")
	ignored, err := sq.ApplyFilters(params.Filters, def.SearchParams, strict)
	if err != nil {
		return nil, err
	}
	sq.ApplySort(params.Sort, def.DefaultSort, def.SearchParams)

	res = &SearchResult{Ignored: ignored}
	var total int64
	if err := q.QueryRow(ctx, sq.CountSQL(), sq.CountArgs()...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count %s: %w", def.Type, err)
	}
	res.Total = int(total)
	if params.Count == 0 || params.Offset >= res.Total {
		return res, nil
	}

	rows, err := q.Query(ctx, sq.DataSQL(), sq.DataArgs(params.Count, params.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", def.Type, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.VersionID, &r.LastUpdated, &r.Resource); err != nil {
			return nil, fmt.Errorf("scan %s: %w", def.Type, err)
		}
		res.Records = append(res.Records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", def.Type, err)
	}
	return res, nil
}
