package fhir

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact    SearchModifier = "exact"
	ModifierContains SearchModifier = "contains"
	ModifierNot      SearchModifier = "not"
	ModifierMissing  SearchModifier = "missing"
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) (string, SearchModifier) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 2 {
		return parts[0], SearchModifier(parts[1])
	}
	return parts[0], ""
}

// SplitOr splits a parameter value on unescaped commas. "\," stays a literal comma.
func SplitOr(value string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch == '\\' && i+1 < len(value) && value[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		if ch == ',' {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(ch)
	}
	return append(out, cur.String())
}

// dateRange returns the half-open interval [start, end) covered by a FHIR
// date value at its own precision. "2024" covers the whole year.
func dateRange(s string) (time.Time, time.Time, error) {
	layouts := []struct {
		layout string
		step   func(time.Time) time.Time
	}{
		{time.RFC3339Nano, func(t time.Time) time.Time { return t.Add(time.Second) }},
		{"2006-01-02T15:04:05", func(t time.Time) time.Time { return t.Add(time.Second) }},
		{"2006-01-02T15:04", func(t time.Time) time.Time { return t.Add(time.Minute) }},
		{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
		{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
		{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
	}
	for _, l := range layouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t, l.step(t), nil
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// DateSearchClause generates SQL for a date search parameter with prefix support.
// Returns the SQL clause, the arguments to bind and the next positional index.
func DateSearchClause(column string, value string, argIdx int) (string, []interface{}, int, error) {
	parsed := ParseSearchValue(value)

	start, end, err := dateRange(parsed.Value)
	if err != nil {
		return "", nil, argIdx, err
	}

	switch parsed.Prefix {
	case PrefixGt, PrefixSa:
		return fmt.Sprintf("%s >= $%d", column, argIdx), []interface{}{end}, argIdx + 1, nil
	case PrefixLt, PrefixEb:
		return fmt.Sprintf("%s < $%d", column, argIdx), []interface{}{start}, argIdx + 1, nil
	case PrefixGe:
		return fmt.Sprintf("%s >= $%d", column, argIdx), []interface{}{start}, argIdx + 1, nil
	case PrefixLe:
		return fmt.Sprintf("%s < $%d", column, argIdx), []interface{}{end}, argIdx + 1, nil
	case PrefixNe:
		clause := fmt.Sprintf("NOT (%s >= $%d AND %s < $%d)", column, argIdx, column, argIdx+1)
		return clause, []interface{}{start, end}, argIdx + 2, nil
	case PrefixAp:
		// Approximate: widen the interval by one day on both sides
		clause := fmt.Sprintf("(%s >= $%d AND %s < $%d)", column, argIdx, column, argIdx+1)
		return clause, []interface{}{start.AddDate(0, 0, -1), end.AddDate(0, 0, 1)}, argIdx + 2, nil
	default: // eq
		clause := fmt.Sprintf("(%s >= $%d AND %s < $%d)", column, argIdx, column, argIdx+1)
		return clause, []interface{}{start, end}, argIdx + 2, nil
	}
}

// NumberSearchClause generates SQL for a number search parameter with prefix support.
func NumberSearchClause(column string, value string, argIdx int) (string, []interface{}, int, error) {
	parsed := ParseSearchValue(value)
	n, err := strconv.ParseFloat(parsed.Value, 64)
	if err != nil {
		return "", nil, argIdx, fmt.Errorf("invalid number: %s", parsed.Value)
	}

	switch parsed.Prefix {
	case PrefixGt, PrefixSa:
		return fmt.Sprintf("%s > $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	case PrefixLt, PrefixEb:
		return fmt.Sprintf("%s < $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	case PrefixGe:
		return fmt.Sprintf("%s >= $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	case PrefixLe:
		return fmt.Sprintf("%s <= $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	case PrefixNe:
		return fmt.Sprintf("%s != $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	case PrefixAp:
		// Approximate: within 10% of the value
		delta := n * 0.1
		if delta < 0 {
			delta = -delta
		}
		clause := fmt.Sprintf("(%s >= $%d AND %s <= $%d)", column, argIdx, column, argIdx+1)
		return clause, []interface{}{n - delta, n + delta}, argIdx + 2, nil
	default:
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{n}, argIdx + 1, nil
	}
}

// TokenSearchClause handles token search parameters in the format "system|code", "|code", "system|", or just "code".
// Without a system column only the code part is compared.
func TokenSearchClause(systemCol, codeCol string, value string, argIdx int) (string, []interface{}, int) {
	if strings.Contains(value, "|") {
		parts := strings.SplitN(value, "|", 2)
		system := parts[0]
		code := parts[1]

		if systemCol == "" {
			return fmt.Sprintf("%s = $%d", codeCol, argIdx), []interface{}{code}, argIdx + 1
		}
		switch {
		case system != "" && code != "":
			clause := fmt.Sprintf("(%s = $%d AND %s = $%d)", systemCol, argIdx, codeCol, argIdx+1)
			return clause, []interface{}{system, code}, argIdx + 2
		case system != "":
			return fmt.Sprintf("%s = $%d", systemCol, argIdx), []interface{}{system}, argIdx + 1
		case code != "":
			// |code means the code has no system
			clause := fmt.Sprintf("(%s IS NULL AND %s = $%d)", systemCol, codeCol, argIdx)
			return clause, []interface{}{code}, argIdx + 1
		}
	}

	// No pipe: just match the code
	return fmt.Sprintf("%s = $%d", codeCol, argIdx), []interface{}{value}, argIdx + 1
}

// BoolSearchClause matches a boolean column against "true" or "false".
func BoolSearchClause(column string, value string, argIdx int) (string, []interface{}, int, error) {
	if value != "true" && value != "false" {
		return "", nil, argIdx, fmt.Errorf("expected true or false, got %q", value)
	}
	return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{value == "true"}, argIdx + 1, nil
}

// StringSearchClause handles string search parameters with modifier support.
func StringSearchClause(column string, value string, modifier SearchModifier, argIdx int) (string, []interface{}, int) {
	switch modifier {
	case ModifierExact:
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{value}, argIdx + 1
	case ModifierContains:
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{"%" + escapeLike(value) + "%"}, argIdx + 1
	default:
		// Default string search: case-insensitive prefix match
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{escapeLike(value) + "%"}, argIdx + 1
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ReferenceSearchClause parses a FHIR reference value and returns a SQL clause.
// Handles "Type/uuid" and "uuid". Ids that are not UUIDs, or a type other than
// target, can never match a stored row. Array columns use ANY.
func ReferenceSearchClause(column, target string, array bool, value string, argIdx int) (string, []interface{}, int) {
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		resourceType := value[:idx]
		value = value[idx+1:]
		if target != "" && resourceType != target {
			return "1=0", nil, argIdx
		}
	}

	if !IsUUID(value) {
		return "1=0", nil, argIdx
	}
	value = strings.ToLower(value)
	if array {
		return fmt.Sprintf("$%d = ANY(%s)", argIdx, column), []interface{}{value}, argIdx + 1
	}
	return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{value}, argIdx + 1
}

// MissingSearchClause generates SQL for the :missing modifier.
// Array columns count as missing when empty.
func MissingSearchClause(column string, array, missing bool) string {
	if array {
		if missing {
			return fmt.Sprintf("cardinality(%s) = 0", column)
		}
		return fmt.Sprintf("cardinality(%s) > 0", column)
	}
	if missing {
		return fmt.Sprintf("%s IS NULL", column)
	}
	return fmt.Sprintf("%s IS NOT NULL", column)
}

// IsUUID checks if a string looks like a valid UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
