package resource

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	r4 "github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// Issues collects the validation problems of one resource body.
type Issues struct {
	list []fhir.ValidationIssue
}

// Add records a problem at the given element path.
func (is *Issues) Add(expression, format string, args ...interface{}) {
	if is.has(expression) {
		return
	}
	is.list = append(is.list, fhir.ValidationIssue{
		Code:        fhir.IssueTypeInvalid,
		Diagnostics: fmt.Sprintf(format, args...),
		Expression:  expression,
	})
}

// Required records a missing mandatory element.
func (is *Issues) Required(expression string) {
	if is.has(expression) {
		return
	}
	is.list = append(is.list, fhir.ValidationIssue{
		Code:        fhir.IssueTypeRequired,
		Diagnostics: expression + " is required",
		Expression:  expression,
	})
}

// has reports whether expression already has an issue. Only the first
// problem of an element is reported.
func (is *Issues) has(expression string) bool {
	for _, vi := range is.list {
		if expression != "" && vi.Expression == expression {
			return true
		}
	}
	return false
}

// Len returns the number of recorded issues.
func (is *Issues) Len() int { return len(is.list) }

// Err returns the recorded issues as a 400 OperationOutcome, or nil.
func (is *Issues) Err() error {
	if len(is.list) == 0 {
		return nil
	}
	return fhir.ValidationError(is.list...)
}

// Decode unmarshals body with the typed R4 decoder after checking that the
// named top level elements are present. The typed models cannot tell a
// missing required code from an empty one, so presence is checked on the
// raw object.
func Decode[T any](body []byte, resourceType string, unmarshal func([]byte) (T, error), is *Issues, required ...string) (T, bool) {
	var zero T
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		is.Add(resourceType, "resource body is not a JSON object: %v", err)
		return zero, false
	}
	for _, name := range required {
		if v, ok := raw[name]; !ok || isEmptyJSON(v) {
			is.Required(resourceType + "." + name)
		}
	}
	res, err := unmarshal(body)
	if err != nil {
		is.Add(resourceType, "invalid %s: %v", resourceType, err)
		return zero, false
	}
	return res, true
}

func isEmptyJSON(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// ReferenceID returns the id of a local reference "Type/uuid". Absent
// references yield "". Anything other than a local reference to one of
// targets is recorded as an issue on expression.
func ReferenceID(ref *r4.Reference, expression string, is *Issues, targets ...string) string {
	if ref == nil || ref.Reference == nil || *ref.Reference == "" {
		return ""
	}
	value := *ref.Reference
	resourceType, id, ok := strings.Cut(value, "/")
	if !ok || strings.Contains(id, "/") || !fhir.IsUUID(id) {
		is.Add(expression, "reference %q must be a local reference of the form Type/id", value)
		return ""
	}
	if len(targets) > 0 && !contains(targets, resourceType) {
		is.Add(expression, "reference %q must point to %s", value, strings.Join(targets, " or "))
		return ""
	}
	if ref.Type != nil && *ref.Type != resourceType {
		is.Add(expression, "reference type %q does not match %q", *ref.Type, value)
		return ""
	}
	return strings.ToLower(id)
}

// RequiredReference is ReferenceID for a mandatory element.
func RequiredReference(ref *r4.Reference, expression string, is *Issues, targets ...string) string {
	if ref == nil || ref.Reference == nil || *ref.Reference == "" {
		is.Required(expression)
		return ""
	}
	return ReferenceID(ref, expression, is, targets...)
}

// FirstCoding returns system and code of the first coding that has a code.
func FirstCoding(cc *r4.CodeableConcept) (system, code string) {
	if cc == nil {
		return "", ""
	}
	for _, c := range cc.Coding {
		if c.Code != nil && *c.Code != "" {
			return deref(c.System), *c.Code
		}
	}
	return "", ""
}

// FirstCodingOf applies FirstCoding to a list of concepts.
func FirstCodingOf(ccs []r4.CodeableConcept) (system, code string) {
	for i := range ccs {
		if s, c := FirstCoding(&ccs[i]); c != "" {
			return s, c
		}
	}
	return "", ""
}

// HasCoding reports whether a concept carries at least one code or a text.
func HasCoding(cc *r4.CodeableConcept) bool {
	if cc == nil {
		return false
	}
	_, code := FirstCoding(cc)
	return code != "" || deref(cc.Text) != ""
}

// Identifier returns the system and value of the first identifier whose
// system is in preferred, falling back to the first identifier with a value.
func Identifier(ids []r4.Identifier, preferred ...string) (system, value string) {
	for _, want := range preferred {
		if v := IdentifierValue(ids, want); v != "" {
			return want, v
		}
	}
	for _, id := range ids {
		if v := deref(id.Value); v != "" {
			return deref(id.System), v
		}
	}
	return "", ""
}

// IdentifierValue returns the value of the first identifier in system.
func IdentifierValue(ids []r4.Identifier, system string) string {
	for _, id := range ids {
		if deref(id.System) == system {
			if v := deref(id.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

// Name returns family, given and display text of the first usable name.
// An official name wins over other uses.
func Name(names []r4.HumanName) (family, given, text string) {
	if len(names) == 0 {
		return "", "", ""
	}
	n := names[0]
	for _, candidate := range names {
		if candidate.Use != nil && *candidate.Use == r4.NameUseOfficial {
			n = candidate
			break
		}
	}
	family = deref(n.Family)
	given = strings.Join(n.Given, " ")
	text = deref(n.Text)
	if text == "" {
		text = strings.TrimSpace(given + " " + family)
	}
	return family, given, text
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDateTime parses a FHIR date or dateTime. Partial dates resolve to
// their first instant in UTC.
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// DateColumn parses an optional date element into a column value.
func DateColumn(s *string, expression string, is *Issues) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	t, err := ParseDateTime(*s)
	if err != nil {
		is.Add(expression, "%v", err)
		return nil
	}
	return t
}

// Nullable maps "" to a NULL column value.
func Nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Code returns the code of an optional enum as a column value.
func Code[T interface{ Code() string }](v *T) interface{} {
	if v == nil {
		return nil
	}
	return (*v).Code()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ReferenceTo validates ref and returns its id only when it points to
// resourceType. Used for elements that accept several target types of which
// one is stored.
func ReferenceTo(ref *r4.Reference, resourceType, expression string, is *Issues) string {
	id := ReferenceID(ref, expression, is)
	if id == "" || !strings.HasPrefix(*ref.Reference, resourceType+"/") {
		return ""
	}
	return id
}

// Codings returns the system and code of every coding of a concept found at
// path in a raw resource object, e.g. "code" or "category".
func Codings(obj map[string]interface{}, path string) [][2]string {
	var concepts []interface{}
	switch v := obj[path].(type) {
	case map[string]interface{}:
		concepts = []interface{}{v}
	case []interface{}:
		concepts = v
	}
	var out [][2]string
	for _, c := range concepts {
		cc, _ := c.(map[string]interface{})
		codings, _ := cc["coding"].([]interface{})
		for _, coding := range codings {
			m, _ := coding.(map[string]interface{})
			system, _ := m["system"].(string)
			code, _ := m["code"].(string)
			out = append(out, [2]string{system, code})
		}
	}
	return out
}

// Elem formats the path of a repeating element, e.g. Patient.name[1].
func Elem(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
