package fhir

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestParseETag(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{`W/"3"`, 3, false},
		{`"5"`, 5, false},
		{`W/"1"`, 1, false},
		{`"abc"`, 0, true},
		{`W/""`, 0, true},
		{`W/"0"`, 0, true},
		{`42`, 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseETag(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ParseETag(%q) should have returned error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ParseETag(%q) returned error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseETag(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatETag(t *testing.T) {
	if got := FormatETag(42); got != `W/"42"` {
		t.Errorf("FormatETag(42) = %q", got)
	}
}

func newVersionContext(header, value string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestSetVersionHeaders(t *testing.T) {
	c, rec := newVersionContext("", "")
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	SetVersionHeaders(c, 7, ts)

	if got := rec.Header().Get("ETag"); got != `W/"7"` {
		t.Errorf("ETag = %q", got)
	}
	if got := rec.Header().Get("Last-Modified"); got != "Fri, 01 Mar 2024 09:30:00 GMT" {
		t.Errorf("Last-Modified = %q", got)
	}
}

func TestIfMatchVersion(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int
		present bool
		wantErr bool
	}{
		{"absent", "", 0, false, false},
		{"wildcard", "*", 0, false, false},
		{"weak", `W/"2"`, 2, true, false},
		{"malformed", `W/"two"`, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newVersionContext("If-Match", tt.value)
			got, present, err := IfMatchVersion(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if fe := ToError(err); fe.Status != http.StatusBadRequest {
					t.Errorf("status = %d, want 400", fe.Status)
				}
				return
			}
			if got != tt.want || present != tt.present {
				t.Errorf("got (%d, %v), want (%d, %v)", got, present, tt.want, tt.present)
			}
		})
	}
}

func TestCheckIfNoneMatch(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{`W/"3"`, true},
		{`W/"2"`, false},
		{`W/"1", W/"3"`, true},
		{"*", true},
	}
	for _, tt := range tests {
		c, _ := newVersionContext("If-None-Match", tt.value)
		if got := CheckIfNoneMatch(c, 3); got != tt.want {
			t.Errorf("CheckIfNoneMatch(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
