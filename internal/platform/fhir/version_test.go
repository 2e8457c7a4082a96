package fhir

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequireR4(t *testing.T) {
	tests := []struct {
		version string
		allowed bool
	}{
		{"R4", true},
		{"r4", true},
		{"4.0.1", true},
		{"R5", false},
		{"STU3", false},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetParamNames("version")
			c.SetParamValues(tt.version)

			called := false
			err := RequireR4()(func(c echo.Context) error {
				called = true
				return nil
			})(c)

			if called != tt.allowed {
				t.Errorf("handler called = %v, want %v", called, tt.allowed)
			}
			if !tt.allowed {
				if fe := ToError(err); fe.Status != http.StatusNotFound {
					t.Errorf("status = %d, want 404", fe.Status)
				}
			}
		})
	}
}
