package fhir

import (
	"fmt"
	"net/http"
)

// OperationOutcome severity levels.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes.
const (
	IssueTypeInvalid       = "invalid"
	IssueTypeStructure     = "structure"
	IssueTypeRequired      = "required"
	IssueTypeValue         = "value"
	IssueTypeNotFound      = "not-found"
	IssueTypeConflict      = "conflict"
	IssueTypeProcessing    = "processing"
	IssueTypeSecurity      = "security"
	IssueTypeLogin         = "login"
	IssueTypeForbidden     = "forbidden"
	IssueTypeNotSupported  = "not-supported"
	IssueTypeException     = "exception"
	IssueTypeTransient     = "transient"
	IssueTypeDuplicate     = "duplicate"
	IssueTypeDeleted       = "deleted"
	IssueTypeCodeInvalid   = "code-invalid"
	IssueTypeInformational = "informational"
	IssueTypeTooCostly     = "too-costly"
	IssueTypeTimeout       = "timeout"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// GoneOutcome reports a soft deleted resource.
func GoneOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeDeleted,
		fmt.Sprintf("%s/%s has been deleted", resourceType, id))
}

func ConflictOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeConflict, diagnostics)
}

// SuccessOutcome is returned for Prefer: return=OperationOutcome.
func SuccessOutcome(message string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityInformation, IssueTypeInformational, message)
}

// ValidationIssue is a single problem found while checking a resource body.
type ValidationIssue struct {
	Code        string
	Diagnostics string
	Expression  string
}

// ValidationOutcome converts validation issues into an OperationOutcome.
func ValidationOutcome(issues []ValidationIssue) *OperationOutcome {
	oo := &OperationOutcome{ResourceType: "OperationOutcome"}
	for _, vi := range issues {
		issue := OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        vi.Code,
			Diagnostics: vi.Diagnostics,
		}
		if issue.Code == "" {
			issue.Code = IssueTypeInvalid
		}
		if vi.Expression != "" {
			issue.Expression = []string{vi.Expression}
		}
		oo.Issue = append(oo.Issue, issue)
	}
	return oo
}

// Error is an error that renders as an OperationOutcome with an HTTP status.
type Error struct {
	Status  int
	Outcome *OperationOutcome
	cause   error
}

func (e *Error) Error() string {
	if len(e.Outcome.Issue) == 0 {
		return http.StatusText(e.Status)
	}
	return e.Outcome.Issue[0].Diagnostics
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds an Error with a single issue.
func NewError(status int, issueType, diagnostics string) *Error {
	return &Error{Status: status, Outcome: NewOperationOutcome(IssueSeverityError, issueType, diagnostics)}
}

// WrapError is NewError keeping cause for errors.Is and logging.
func WrapError(status int, issueType, diagnostics string, cause error) *Error {
	e := NewError(status, issueType, diagnostics)
	e.cause = cause
	return e
}

// Errorf is shorthand for a 400 invalid issue.
func Errorf(format string, args ...interface{}) *Error {
	return NewError(http.StatusBadRequest, IssueTypeInvalid, fmt.Sprintf(format, args...))
}

// ValidationError reports one or more invalid elements of a resource body.
func ValidationError(issues ...ValidationIssue) *Error {
	return &Error{Status: http.StatusBadRequest, Outcome: ValidationOutcome(issues)}
}

// NotFoundError reports an unknown resource id.
func NotFoundError(resourceType, id string) *Error {
	return &Error{Status: http.StatusNotFound, Outcome: NotFoundOutcome(resourceType, id)}
}

// GoneError reports a soft deleted resource.
func GoneError(resourceType, id string) *Error {
	return &Error{Status: http.StatusGone, Outcome: GoneOutcome(resourceType, id)}
}
