package fhir

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestNewOperationOutcome(t *testing.T) {
	oo := NewOperationOutcome("error", "processing", "something went wrong")

	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Severity != "error" || oo.Issue[0].Code != "processing" {
		t.Errorf("unexpected issue %+v", oo.Issue[0])
	}
}

func TestGoneOutcome(t *testing.T) {
	oo := GoneOutcome("Observation", "abc")
	if oo.Issue[0].Code != IssueTypeDeleted {
		t.Errorf("expected code deleted, got %s", oo.Issue[0].Code)
	}
	if oo.Issue[0].Diagnostics != "Observation/abc has been deleted" {
		t.Errorf("unexpected diagnostics %q", oo.Issue[0].Diagnostics)
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError(
		ValidationIssue{Code: IssueTypeRequired, Diagnostics: "status is required", Expression: "Observation.status"},
		ValidationIssue{Diagnostics: "subject must reference a Patient", Expression: "Observation.subject"},
	)
	if err.Status != http.StatusBadRequest {
		t.Errorf("status = %d", err.Status)
	}
	if len(err.Outcome.Issue) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(err.Outcome.Issue))
	}
	if err.Outcome.Issue[1].Code != IssueTypeInvalid {
		t.Errorf("expected default code invalid, got %s", err.Outcome.Issue[1].Code)
	}
	if err.Error() != "status is required" {
		t.Errorf("Error() = %q", err.Error())
	}

	data, _ := json.Marshal(err.Outcome)
	var parsed map[string]interface{}
	if jerr := json.Unmarshal(data, &parsed); jerr != nil {
		t.Fatal(jerr)
	}
	issue := parsed["issue"].([]interface{})[0].(map[string]interface{})
	if issue["expression"].([]interface{})[0] != "Observation.status" {
		t.Errorf("unexpected expression %v", issue["expression"])
	}
}

func TestWrapError_Unwrap(t *testing.T) {
	cause := errors.New("db down")
	err := WrapError(http.StatusBadGateway, IssueTypeTransient, "gateway unavailable", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}
