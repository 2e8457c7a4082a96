package fhir

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// SearchParamType defines the FHIR search parameter type.
type SearchParamType int

const (
	SearchParamToken     SearchParamType = iota // Token: status, code, category (exact match or system|code)
	SearchParamDate                             // Date: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamString                           // String: case-insensitive prefix match, supports :exact, :contains
	SearchParamReference                        // Reference: handles "ResourceType/uuid" or "uuid"
	SearchParamNumber                           // Number: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamQuantity                         // Quantity: number with unit (treated as number on value column)
	SearchParamURI                              // URI: exact match
	SearchParamBoolean                          // Token over a boolean column
	SearchParamID                               // Token over the uuid primary key
)

// FHIRType returns the search parameter type name used in a CapabilityStatement.
func (t SearchParamType) FHIRType() string {
	switch t {
	case SearchParamDate:
		return "date"
	case SearchParamString:
		return "string"
	case SearchParamReference:
		return "reference"
	case SearchParamNumber:
		return "number"
	case SearchParamQuantity:
		return "quantity"
	case SearchParamURI:
		return "uri"
	default:
		return "token"
	}
}

// SearchParamConfig maps a FHIR search parameter to its database representation.
type SearchParamConfig struct {
	Type      SearchParamType
	Column    string // Primary DB column (code column for tokens)
	SysColumn string // System column for token params (e.g., "code_system")
	Target    string // Referenced resource type for reference params
	Array     bool   // Column is a UUID[] of references
}

// Search control parameters.
const (
	ParamCount  = "_count"
	ParamOffset = "_offset"
	ParamSort   = "_sort"
	ParamTotal  = "_total"
	ParamFormat = "_format"
	ParamPretty = "_pretty"
)

const (
	DefaultCount = 20
	MaxCount     = 100
)

var controlParams = map[string]bool{
	ParamCount:  true,
	ParamOffset: true,
	ParamSort:   true,
	ParamTotal:  true,
	ParamFormat: true,
	ParamPretty: true,
}

// SearchParams is a parsed search request: filters plus paging controls.
type SearchParams struct {
	Filters url.Values
	Count   int
	Offset  int
	Sort    string
}

// ParseSearchParams separates control parameters from filters and validates
// paging. _count above MaxCount is clamped.
func ParseSearchParams(query url.Values) (*SearchParams, error) {
	p := &SearchParams{Filters: url.Values{}, Count: DefaultCount}
	for name, values := range query {
		if !controlParams[name] {
			p.Filters[name] = values
		}
	}

	if v := query.Get(ParamCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, Errorf("_count must be a non-negative integer, got %q", v)
		}
		if n > MaxCount {
			n = MaxCount
		}
		p.Count = n
	}
	if v := query.Get(ParamOffset); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, Errorf("_offset must be a non-negative integer, got %q", v)
		}
		p.Offset = n
	}
	p.Sort = query.Get(ParamSort)
	return p, nil
}

// SearchQuery builds SQL WHERE clauses from FHIR search parameters.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a new SearchQuery for the given table and columns.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// Idx returns the next available parameter index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a raw WHERE clause fragment (without leading "AND").
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// ApplyParam applies one occurrence of a search parameter. Comma separated
// values are OR-ed; calling ApplyParam again for the same name AND-s.
func (q *SearchQuery) ApplyParam(name string, modifier SearchModifier, config SearchParamConfig, value string) error {
	if modifier == ModifierMissing {
		if value != "true" && value != "false" {
			return Errorf("%s:missing expects true or false", name)
		}
		q.Add(MissingSearchClause(config.Column, config.Array, value == "true"))
		return nil
	}
	if !modifierAllowed(config.Type, modifier) {
		return Errorf("modifier :%s is not supported for search parameter %s", modifier, name)
	}

	var (
		ors  []string
		args []interface{}
		idx  = q.idx
	)
	for _, v := range SplitOr(value) {
		if v == "" {
			continue
		}
		clause, a, next, err := valueClause(config, modifier, v, idx)
		if err != nil {
			return Errorf("invalid value for search parameter %s: %v", name, err)
		}
		ors = append(ors, clause)
		args = append(args, a...)
		idx = next
	}
	if len(ors) == 0 {
		return nil
	}

	clause := ors[0]
	if len(ors) > 1 {
		clause = "(" + strings.Join(ors, " OR ") + ")"
	}
	if modifier == ModifierNot {
		// rows without a value do not match the excluded codes
		clause = "NOT COALESCE(" + clause + ", false)"
	}
	q.Add(clause, args...)
	return nil
}

func modifierAllowed(t SearchParamType, m SearchModifier) bool {
	switch m {
	case "":
		return true
	case ModifierExact, ModifierContains:
		return t == SearchParamString
	case ModifierNot:
		return t == SearchParamToken || t == SearchParamBoolean || t == SearchParamID
	}
	return false
}

func valueClause(config SearchParamConfig, modifier SearchModifier, value string, idx int) (string, []interface{}, int, error) {
	switch config.Type {
	case SearchParamDate:
		return DateSearchClause(config.Column, value, idx)
	case SearchParamNumber, SearchParamQuantity:
		// only the numeric part of number|system|code is compared
		if i := strings.Index(value, "|"); i >= 0 {
			value = value[:i]
		}
		return NumberSearchClause(config.Column, value, idx)
	case SearchParamBoolean:
		return BoolSearchClause(config.Column, value, idx)
	case SearchParamString:
		clause, args, next := StringSearchClause(config.Column, value, modifier, idx)
		return clause, args, next, nil
	case SearchParamReference:
		clause, args, next := ReferenceSearchClause(config.Column, config.Target, config.Array, value, idx)
		return clause, args, next, nil
	case SearchParamURI:
		return fmt.Sprintf("%s = $%d", config.Column, idx), []interface{}{value}, idx + 1, nil
	case SearchParamID:
		if !IsUUID(value) {
			return "1=0", nil, idx, nil
		}
		return fmt.Sprintf("%s = $%d", config.Column, idx), []interface{}{strings.ToLower(value)}, idx + 1, nil
	default:
		clause, args, next := TokenSearchClause(config.SysColumn, config.Column, value, idx)
		return clause, args, next, nil
	}
}

// ApplyFilters applies every filter that has a configuration. Parameters
// without one are returned as ignored, or rejected when strict is set.
// Names are processed in sorted order so the generated SQL is stable.
func (q *SearchQuery) ApplyFilters(filters url.Values, configs map[string]SearchParamConfig, strict bool) ([]string, error) {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var ignored []string
	for _, name := range names {
		base, modifier := ParseParamModifier(name)
		config, ok := configs[base]
		if !ok {
			if strict {
				return nil, Errorf("unknown search parameter %q", name)
			}
			ignored = append(ignored, name)
			continue
		}
		for _, value := range filters[name] {
			if err := q.ApplyParam(base, modifier, config, value); err != nil {
				return nil, err
			}
		}
	}
	return ignored, nil
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// CountSQL returns the count query SQL.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// CountArgs returns the arguments for the count query.
func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

// ApplySort processes the _sort parameter and sets ORDER BY using config column mappings.
// The _sort value is a comma-separated list of param names, optionally prefixed with - for DESC.
// Falls back to the provided defaultOrder if _sort is empty. The id column is
// always the last key so pages are stable.
func (q *SearchQuery) ApplySort(sortParam, defaultOrder string, configs map[string]SearchParamConfig) {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		desc := false
		if strings.HasPrefix(field, "-") {
			desc = true
			field = field[1:]
		}
		config, ok := configs[field]
		if !ok || config.Array {
			continue
		}
		if desc {
			parts = append(parts, config.Column+" DESC")
		} else {
			parts = append(parts, config.Column+" ASC")
		}
	}
	if len(parts) == 0 {
		q.orderBy = defaultOrder
	} else {
		q.orderBy = strings.Join(parts, ", ")
	}
	for _, key := range strings.Split(q.orderBy, ",") {
		if f := strings.Fields(key); len(f) > 0 && f[0] == "id" {
			return
		}
	}
	if q.orderBy != "" {
		q.orderBy += ", "
	}
	q.orderBy += "id ASC"
}
